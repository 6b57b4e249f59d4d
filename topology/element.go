package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/ddr4869/fabctl/common/types"
)

// Layout is the context an element derives its paths from.
type Layout struct {
	Domain     string
	CryptoDir  string
	ComposeDir string
	PackageDir string
	// ScriptDir and TmpDir live on the remote host.
	ScriptDir string
	TmpDir    string
}

// ArchiveEntry is one local file or directory packed into an element archive.
type ArchiveEntry struct {
	Source string
	Target string
	IsDir  bool
}

// Element is one role instance bound to a host.
type Element struct {
	Role       types.Role
	Index      string
	Org        string
	Address    string
	RoleDomain string
	Containers []string
	Volume     string

	layout Layout

	mu      sync.RWMutex
	archive []ArchiveEntry
}

func newElement(layout Layout, role types.Role, index, org, roleDomain, address string) *Element {
	e := &Element{
		Role:       role,
		Index:      index,
		Org:        org,
		Address:    address,
		RoleDomain: roleDomain,
		layout:     layout,
	}
	e.archive, e.Containers, e.Volume = e.baseArchive()
	return e
}

// baseArchive returns the entries packed before any generated files are read,
// with the element's containers and data volume.
func (e *Element) baseArchive() (entries []ArchiveEntry, containers []string, volume string) {
	l := e.layout
	entries = []ArchiveEntry{
		{Source: filepath.Join(l.ComposeDir, string(e.Role)+".yaml")},
		{Source: filepath.Join(l.ComposeDir, e.RoleDomain+".sh")},
	}
	crypto := func(rel string) {
		entries = append(entries, ArchiveEntry{Source: filepath.Join(l.CryptoDir, rel), Target: rel, IsDir: true})
	}

	switch e.Role {
	case types.RoleZookeeper, types.RoleKafka:
		containers = []string{fmt.Sprintf("%s%s", e.Role, e.Index)}
		volume = fmt.Sprintf("/data/%s/%s", e.Role, e.Index)

	case types.RolePeer:
		crypto(fmt.Sprintf("crypto-config/peerOrganizations/%s.%s/peers/%s", e.Org, l.Domain, e.RoleDomain))
		containers = []string{e.RoleDomain}
		volume = fmt.Sprintf("/data/fabric/%s/production", e.RoleDomain)

	case types.RolePeerCLI:
		peerDomain := strings.Replace(e.RoleDomain, "-cli", "", 1)
		crypto(fmt.Sprintf("crypto-config/peerOrganizations/%s.%s/peers/%s/tls", e.Org, l.Domain, peerDomain))
		crypto(fmt.Sprintf("crypto-config/peerOrganizations/%s.%s/users", e.Org, l.Domain))
		crypto(fmt.Sprintf("crypto-config/ordererOrganizations/%s/users/Admin@%s/msp/tlscacerts/", l.Domain, l.Domain))
		containers = []string{e.RoleDomain}
		volume = fmt.Sprintf("/data/fabric/%s/cli-data", peerDomain)

	case types.RoleOrderer:
		crypto(fmt.Sprintf("crypto-config/ordererOrganizations/%s/orderers/%s", l.Domain, e.RoleDomain))
		containers = []string{e.RoleDomain}

	case types.RoleOrdererCLI:
		crypto(fmt.Sprintf("crypto-config/ordererOrganizations/%s/users/", l.Domain))
		containers = []string{e.RoleDomain}

	case types.RoleExplorer:
		entries = append(entries,
			ArchiveEntry{Source: filepath.Join(l.ComposeDir, "config.json")},
			ArchiveEntry{Source: filepath.Join(l.ComposeDir, "explorer-db.yaml")},
		)
		containers = []string{"fabric-explorer-db", "fabric-explorer"}
	}
	return entries, containers, volume
}

// ArchiveName is the zip file name of the element package.
func (e *Element) ArchiveName() string {
	return strings.ReplaceAll(e.RoleDomain, ".", "-") + ".zip"
}

// ArchivePath is the local path of the element package.
func (e *Element) ArchivePath() string {
	return filepath.Join(e.layout.PackageDir, e.ArchiveName())
}

// RemoteArchivePath is where the package is uploaded on the host.
func (e *Element) RemoteArchivePath() string {
	return path.Join(e.layout.TmpDir, e.ArchiveName())
}

// Archive returns the packed entries in order.
func (e *Element) Archive() []ArchiveEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ArchiveEntry(nil), e.archive...)
}

// CryptoPaths returns the crypto-config relative paths packed for the element.
func (e *Element) CryptoPaths() []string {
	var paths []string
	for _, entry := range e.Archive() {
		if strings.HasPrefix(entry.Source, e.layout.CryptoDir) && e.layout.CryptoDir != "" {
			rel, err := filepath.Rel(e.layout.CryptoDir, entry.Source)
			if err == nil {
				paths = append(paths, filepath.ToSlash(rel))
			}
		}
	}
	return paths
}

type explorerNetwork struct {
	NetworkConfigs map[string]struct {
		Organizations map[string]struct {
			AdminPrivateKey *explorerPath `json:"adminPrivateKey"`
			SignedCert      *explorerPath `json:"signedCert"`
		} `json:"organizations"`
		Peers map[string]struct {
			TLSCACerts *explorerPath `json:"tlsCACerts"`
		} `json:"peers"`
	} `json:"network-configs"`
}

type explorerPath struct {
	Path string `json:"path"`
}

// Reload recomputes the crypto paths that depend on generated files. Only
// the explorer reads its config.json; other roles are unchanged.
func (e *Element) Reload() error {
	if e.Role != types.RoleExplorer {
		return nil
	}

	configPath := filepath.Join(e.layout.ComposeDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "fabric-explorer config.json not exist")
	}
	var cfg explorerNetwork
	if err := json.Unmarshal(data, &cfg); err != nil {
		return errors.Wrap(err, "failed to parse fabric-explorer config.json")
	}
	network, ok := cfg.NetworkConfigs["network-1"]
	if !ok {
		return errors.New("fabric-explorer config.json has no network-1")
	}

	entries, _, _ := e.baseArchive()
	add := func(p *explorerPath, isDir bool) {
		if p == nil {
			return
		}
		rel := strings.TrimPrefix(p.Path, "/tmp/")
		target := rel
		if !isDir {
			target = path.Dir(rel)
		}
		entries = append(entries, ArchiveEntry{Source: filepath.Join(e.layout.CryptoDir, rel), Target: target, IsDir: isDir})
	}
	for _, name := range sortedKeys(network.Organizations) {
		org := network.Organizations[name]
		add(org.AdminPrivateKey, true)
		add(org.SignedCert, true)
	}
	for _, name := range sortedKeys(network.Peers) {
		add(network.Peers[name].TLSCACerts, false)
	}
	e.mu.Lock()
	e.archive = entries
	e.mu.Unlock()

	if err := os.Remove(e.ArchivePath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove stale explorer package")
	}
	return nil
}

// UnzipCommands unpack an uploaded package into the script directory.
func (e *Element) UnzipCommands() []string {
	return []string{
		"command -v unzip >/dev/null 2>&1 || { sudo apt-get install unzip -y; }",
		"mkdir -p " + e.layout.ScriptDir,
		fmt.Sprintf("unzip -o %s -d %s", e.RemoteArchivePath(), e.layout.ScriptDir),
	}
}

// InstallCommands start the element from its unpacked scripts.
func (e *Element) InstallCommands() []string {
	if e.Role == types.RoleExplorer {
		return []string{
			"cd " + e.layout.ScriptDir,
			"sudo docker-compose -f explorer-db.yaml up -d",
			"sleep 5",
			`docker exec -i fabric-explorer-db bash -c "sudo -s -u postgres ./createdb.sh"`,
			"sleep 1",
			"sudo docker-compose -f explorer.yaml up -d",
		}
	}
	return []string{
		"cd " + e.layout.ScriptDir,
		fmt.Sprintf("sudo sh %s.sh", e.RoleDomain),
	}
}

// RestartCommands is only supported by the explorer.
func (e *Element) RestartCommands() ([]string, error) {
	if e.Role != types.RoleExplorer {
		return nil, errors.Errorf("restart is not supported for %s", e.Role)
	}
	return []string{"sudo docker restart fabric-explorer"}, nil
}

// UninstallCommands remove the containers and the data volume.
func (e *Element) UninstallCommands() ([]string, error) {
	if len(e.Containers) == 0 {
		return nil, errors.Errorf("unknown docker container name, role: %s, index: %s", e.Role, e.Index)
	}
	var cmds []string
	for _, c := range e.Containers {
		cmds = append(cmds, "sudo docker rm -f "+c)
	}
	if e.Volume != "" && e.Volume != "/" && e.Volume != "/data" {
		cmds = append(cmds, "sudo rm -rf "+e.Volume)
	}
	return cmds, nil
}

// DetectCommands print the container status and its latest logs.
func (e *Element) DetectCommands() []string {
	cmds := make([]string, 0, len(e.Containers))
	for _, c := range e.Containers {
		cmds = append(cmds, fmt.Sprintf("sudo docker ps -f name=%s && sudo docker logs --tail 10 %s", c, c))
	}
	return cmds
}

// CLIDataDir is the host directory mounted as /root/cli-data in a cli container.
func (e *Element) CLIDataDir() string {
	if e.Role != types.RolePeerCLI && e.Role != types.RoleOrdererCLI {
		return ""
	}
	if e.Volume != "" {
		return e.Volume
	}
	return fmt.Sprintf("/data/fabric/%s/cli-data", strings.Replace(e.RoleDomain, "-cli", "", 1))
}

func (e *Element) String() string {
	return fmt.Sprintf("<Element: %s@%s>", e.RoleDomain, e.Address)
}
