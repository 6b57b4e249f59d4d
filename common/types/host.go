package types

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const DefaultSSHPort = 22

// Host holds the login information of one remote machine.
type Host struct {
	Address  string `validate:"required,hostname_rfc1123|ip"`
	ID       string
	User     string `validate:"required"`
	Password string `validate:"required_without=KeyFile"`
	KeyFile  string
	Port     int `validate:"omitempty,min=1,max=65535"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func hostValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks that the host is reachable in principle: an address, a
// login user and either a password or a key.
func (h *Host) Validate() error {
	if h == nil {
		return errors.New("host is nil")
	}
	if err := hostValidator().Struct(h); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "User":
				return errors.Errorf("host<%s> login user must be provided", h.Address)
			case "Password":
				return errors.Errorf("host<%s> login password or key must be provided", h.Address)
			}
		}
		return errors.Wrapf(err, "host<%s> is invalid", h.Address)
	}
	return nil
}

// SSHAddress returns host:port for dialing.
func (h *Host) SSHAddress() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

func (h *Host) String() string {
	return fmt.Sprintf("<Host: %s>", h.Address)
}
