package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// KeyringService is the OS keyring service under which sftp passwords are
// looked up as "<user>@<host>" when no password is configured.
const KeyringService = "pkgmanifest"

const defaultSFTPPort = 22

// Connected sftp targets, released by CloseConnections.
var (
	openSFTPMu sync.Mutex
	openSFTP   = make(map[*sftpTarget]struct{})
)

// CloseConnections closes the SSH connections of every sftp target that has
// dialed. Targets redial on their next use.
func CloseConnections() error {
	openSFTPMu.Lock()
	targets := make([]*sftpTarget, 0, len(openSFTP))
	for t := range openSFTP {
		targets = append(targets, t)
	}
	openSFTPMu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sftp %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// sftpTarget implements Target on a directory of an SSH server. Keys map to
// files below the configured prefix directory.
type sftpTarget struct {
	keyspace
	root string
	addr string
	user string
	auth func() (string, error)

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

// newSFTPTarget validates cfg. The connection is opened on first use.
func newSFTPTarget(cfg Config) (Target, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultSFTPPort
	}

	root := strings.TrimSuffix(cfg.Prefix, "/")
	if root == "" {
		root = "."
	}

	t := &sftpTarget{
		keyspace: keyspace{name: cfg.Name},
		root:     root,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		user:     cfg.User,
	}
	password := cfg.Password
	t.auth = func() (string, error) {
		if password != "" {
			return password, nil
		}
		return keyringPassword(cfg.User, cfg.Host)
	}
	return t, nil
}

func keyringPassword(user, host string) (string, error) {
	pwd, err := keyring.Get(KeyringService, user+"@"+host)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no password configured and none in keyring for %s@%s", user, host)
		}
		return "", errors.Join(errors.New("failed to read keyring credentials"), err)
	}
	return pwd, nil
}

// hostKeyCallback verifies against ~/.ssh/known_hosts when the file exists
// and accepts any key otherwise.
func hostKeyCallback() ssh.HostKeyCallback {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(p); err == nil {
			if cb, err := knownhosts.New(p); err == nil {
				return cb
			}
		}
	}
	return ssh.InsecureIgnoreHostKey()
}

// connect returns the open client, dialing on first use.
func (t *sftpTarget) connect() (*sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	password, err := t.auth()
	if err != nil {
		return nil, err
	}
	conn, err := ssh.Dial("tcp", t.addr, &ssh.ClientConfig{
		User:            t.user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: hostKeyCallback(),
	})
	if err != nil {
		return nil, errors.Join(errors.New("failed to establish ssh connection"), err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Join(errors.New("failed to establish sftp connection"), err)
	}

	t.conn, t.client = conn, client
	openSFTPMu.Lock()
	openSFTP[t] = struct{}{}
	openSFTPMu.Unlock()
	return client, nil
}

// Close releases the SSH connection, if one was opened.
func (t *sftpTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.client != nil {
		errs = append(errs, t.client.Close())
		t.client = nil
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}
	openSFTPMu.Lock()
	delete(openSFTP, t)
	openSFTPMu.Unlock()
	return errors.Join(errs...)
}

func (t *sftpTarget) fullPath(key string) string {
	return path.Join(t.root, key)
}

func isSFTPNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}

// Put writes to a temporary sibling and renames it into place, so readers
// never observe a partial object.
func (t *sftpTarget) Put(ctx context.Context, key string, body io.Reader, _ PutOptions) error {
	t.trace(ctx, "put", key)

	c, err := t.connect()
	if err != nil {
		return err
	}

	full := t.fullPath(key)
	if err := c.MkdirAll(path.Dir(full)); err != nil && !os.IsExist(err) {
		return fmt.Errorf("sftp mkdir %q: %w", key, err)
	}

	tmp := full + ".tmp"
	f, err := c.Create(tmp)
	if err != nil {
		return fmt.Errorf("sftp create %q: %w", key, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = c.Remove(tmp)
		return fmt.Errorf("sftp write %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = c.Remove(tmp)
		return fmt.Errorf("sftp close %q: %w", key, err)
	}

	if err := c.PosixRename(tmp, full); err != nil {
		// Servers without the posix-rename extension refuse to overwrite.
		_ = c.Remove(full)
		if err := c.Rename(tmp, full); err != nil {
			return fmt.Errorf("sftp rename %q: %w", key, err)
		}
	}
	return nil
}

func (t *sftpTarget) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	t.trace(ctx, "get", key)

	c, err := t.connect()
	if err != nil {
		return nil, ObjectMeta{}, err
	}

	f, err := c.Open(t.fullPath(key))
	if err != nil {
		if isSFTPNotFound(err) {
			return nil, ObjectMeta{}, ErrNotFound
		}
		return nil, ObjectMeta{}, fmt.Errorf("sftp open %q: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectMeta{}, fmt.Errorf("sftp stat %q: %w", key, err)
	}
	return f, sftpMeta(info), nil
}

func (t *sftpTarget) Head(ctx context.Context, key string) (ObjectMeta, error) {
	t.trace(ctx, "head", key)

	c, err := t.connect()
	if err != nil {
		return ObjectMeta{}, err
	}

	info, err := c.Stat(t.fullPath(key))
	if err != nil {
		if isSFTPNotFound(err) {
			return ObjectMeta{}, ErrNotFound
		}
		return ObjectMeta{}, fmt.Errorf("sftp stat %q: %w", key, err)
	}
	return sftpMeta(info), nil
}

func (t *sftpTarget) Delete(ctx context.Context, key string) error {
	t.trace(ctx, "delete", key)

	c, err := t.connect()
	if err != nil {
		return err
	}

	if err := c.Remove(t.fullPath(key)); err != nil && !isSFTPNotFound(err) {
		return fmt.Errorf("sftp remove %q: %w", key, err)
	}
	return nil
}

func (t *sftpTarget) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	t.trace(ctx, "list", prefix)

	c, err := t.connect()
	if err != nil {
		return nil, err
	}

	// Walk the deepest directory fully contained in prefix.
	dir := t.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = t.fullPath(prefix[:i])
	}

	var results []ObjectInfo
	w := c.Walk(dir)
	for w.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.Err(); err != nil {
			if isSFTPNotFound(err) && w.Path() == dir {
				return nil, nil
			}
			return nil, fmt.Errorf("sftp walk %q: %w", prefix, err)
		}
		info := w.Stat()
		if info.IsDir() {
			continue
		}
		key := strings.TrimPrefix(w.Path(), t.root+"/")
		if !strings.HasPrefix(key, prefix) || strings.HasSuffix(key, ".tmp") {
			continue
		}
		meta := sftpMeta(info)
		results = append(results, ObjectInfo{Key: key, Size: meta.Size, ETag: meta.ETag})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Key < results[j].Key
	})
	return results, nil
}

// sftpMeta derives an ETag from size and modification time; SFTP has no
// content hash.
func sftpMeta(info fs.FileInfo) ObjectMeta {
	return ObjectMeta{
		ETag: fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size()),
		Size: info.Size(),
	}
}
