package activity

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// SMBHandler implements the `smb` node type over SMB2/3.
//
// config fields:
//
//	server:        hostname or IP (required)
//	port:          int, default 445
//	share:         share name (required)
//	auth:          map — user, password, optional domain
//	folder:        directory inside the share (default ".")
//	method:        "get" | "put" (required)
//	regex_filter:  filename filter regex (get)
//	local_folder:  local source (put) or destination (get) directory
//	files:         filenames to upload (put)
//	overwrite:     replace existing files (put, default true)
//	create_folder: create the remote directory if missing (put)
type SMBHandler struct{}

func (h *SMBHandler) Name() string { return "smb" }

func (h *SMBHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	server, ok := config["server"].(string)
	if !ok || server == "" {
		return nil, fmt.Errorf("smb activity: missing required config field 'server'")
	}
	share, ok := config["share"].(string)
	if !ok || share == "" {
		return nil, fmt.Errorf("smb activity: missing required config field 'share'")
	}
	method, err := transferMethod("smb", config)
	if err != nil {
		return nil, err
	}
	filter, err := compileNameFilter("smb", config)
	if err != nil {
		return nil, err
	}

	port := 445
	switch v := config["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}
	folder, _ := config["folder"].(string)
	if folder == "" {
		folder = "."
	}

	user, password, domain := smbCredentials(config)

	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("smb activity: dial %s: %w", addr, err)
	}
	defer conn.Close()

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: user, Password: password, Domain: domain},
	}
	session, err := dialer.Dial(conn)
	if err != nil {
		return nil, fmt.Errorf("smb activity: session: %w", err)
	}
	defer session.Logoff()

	mount, err := session.Mount(share)
	if err != nil {
		return nil, fmt.Errorf("smb activity: mount %q: %w", share, err)
	}
	defer mount.Umount()

	if method == "get" {
		return smbDownload(mount, folder, localFolder(config), filter)
	}
	return smbUpload(mount, folder, config)
}

func smbDownload(mount *smb2.Share, remoteFolder, localDir string, filter *regexp.Regexp) (map[string]interface{}, error) {
	entries, err := mount.ReadDir(remoteFolder)
	if err != nil {
		return nil, fmt.Errorf("smb activity: list %q: %w", remoteFolder, err)
	}

	var downloaded []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filter != nil && !filter.MatchString(name) {
			continue
		}
		if err := smbCopyToLocal(mount, filepath.Join(remoteFolder, name), filepath.Join(localDir, name)); err != nil {
			return nil, fmt.Errorf("smb activity: download %q: %w", name, err)
		}
		downloaded = append(downloaded, name)
	}
	return downloadOutput(downloaded), nil
}

func smbUpload(mount *smb2.Share, remoteFolder string, config map[string]interface{}) (map[string]interface{}, error) {
	if create, _ := config["create_folder"].(bool); create {
		if err := mount.MkdirAll(remoteFolder, 0o755); err != nil {
			return nil, fmt.Errorf("smb activity: create folder %q: %w", remoteFolder, err)
		}
	}
	localDir := localFolder(config)
	overwrite := overwriteEnabled(config)

	var uploaded []string
	for _, name := range uploadNames(config) {
		remotePath := filepath.Join(remoteFolder, name)
		if !overwrite {
			if _, err := mount.Stat(remotePath); err == nil {
				continue
			}
		}
		if err := smbCopyToRemote(mount, filepath.Join(localDir, name), remotePath); err != nil {
			return nil, fmt.Errorf("smb activity: upload %q: %w", name, err)
		}
		uploaded = append(uploaded, name)
	}
	return uploadOutput(uploaded), nil
}

func smbCopyToLocal(mount *smb2.Share, remotePath, localPath string) error {
	src, err := mount.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func smbCopyToRemote(mount *smb2.Share, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := mount.Create(remotePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func smbCredentials(config map[string]interface{}) (user, password, domain string) {
	if auth, ok := config["auth"].(map[string]interface{}); ok {
		user, _ = auth["user"].(string)
		password, _ = auth["password"].(string)
		domain, _ = auth["domain"].(string)
	}
	if user == "" {
		user, _ = config["user"].(string)
	}
	if password == "" {
		password, _ = config["password"].(string)
	}
	return user, password, domain
}
