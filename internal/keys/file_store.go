package keys

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	privateKeyPerm = fs.FileMode(0o600)
	publicKeyPerm  = fs.FileMode(0o644)
	keyDirPerm     = fs.FileMode(0o700)

	// peerWaitAttempts と peerWaitInterval は、他プロセスが秘密鍵を公開した直後に
	// 公開鍵の書き込み完了を待つ上限。
	peerWaitAttempts = 20
	peerWaitInterval = 50 * time.Millisecond
)

var errPublicKeyMissing = errors.New("public key file missing")

// FileStore は鍵素材を2つのファイル（<path> と <path>.pub）に保存する。
//
// 初回生成時は秘密鍵を一時ファイルに書き、os.Linkで公開する。Linkは既存ファイルを
// 上書きしないため、同時に起動した複数プロセスのうち1つだけが保存に成功する。
// 秘密鍵ファイルの存在が「作成済み」を表し、公開鍵はその後にrenameで置く。
// 公開前にプロセスが落ちて公開鍵が無いまま残った場合は、待機の後に秘密鍵から公開鍵を作り直す。
type FileStore struct {
	path string
}

// NewFileStore はFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// PrivateKeyPath は秘密鍵ファイルのパスを返す。
func (s *FileStore) PrivateKeyPath() string {
	return s.path
}

// PublicKeyPath は公開鍵ファイルのパスを返す。
func (s *FileStore) PublicKeyPath() string {
	return s.path + ".pub"
}

// Load は鍵ファイルを読み込む。秘密鍵ファイルがなければErrNotFoundを返す。
// 秘密鍵だけが存在する場合は、作成中の他プロセスが公開鍵を書き終えるまで待つ。
// 待っても現れなければ秘密鍵から公開鍵を復元する。
func (s *FileStore) Load(ctx context.Context) ([]byte, []byte, error) {
	return s.awaitPeer(ctx)
}

func (s *FileStore) read() ([]byte, []byte, error) {
	privDER, err := os.ReadFile(s.PrivateKeyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}

	pubDER, err := os.ReadFile(s.PublicKeyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", errPublicKeyMissing, s.PublicKeyPath())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}

	return privDER, pubDER, nil
}

// CreateIfAbsent は鍵ファイルが未作成の場合のみ書き込む。
func (s *FileStore) CreateIfAbsent(ctx context.Context, privDER, pubDER []byte) ([]byte, []byte, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, keyDirPerm); err != nil {
		return nil, nil, fmt.Errorf("create key directory: %w", err)
	}

	tmpPriv, err := writeTemp(dir, privDER, privateKeyPerm)
	if err != nil {
		return nil, nil, fmt.Errorf("write private key: %w", err)
	}
	defer os.Remove(tmpPriv)

	if err := os.Link(tmpPriv, s.PrivateKeyPath()); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return s.awaitPeer(ctx)
		}
		return nil, nil, fmt.Errorf("publish private key: %w", err)
	}

	tmpPub, err := writeTemp(dir, pubDER, publicKeyPerm)
	if err != nil {
		return nil, nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.Rename(tmpPub, s.PublicKeyPath()); err != nil {
		os.Remove(tmpPub)
		return nil, nil, fmt.Errorf("publish public key: %w", err)
	}

	return privDER, pubDER, nil
}

// awaitPeer は先に秘密鍵を公開したプロセスが公開鍵を書き終えるのを待ち、その鍵素材を返す。
func (s *FileStore) awaitPeer(ctx context.Context) ([]byte, []byte, error) {
	for attempt := 0; ; attempt++ {
		privDER, pubDER, err := s.read()
		if err == nil {
			return privDER, pubDER, nil
		}
		if !errors.Is(err, errPublicKeyMissing) {
			return nil, nil, err
		}
		if attempt >= peerWaitAttempts {
			return s.restorePublicKey()
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(peerWaitInterval):
		}
	}
}

// restorePublicKey は保存済みの秘密鍵から公開鍵ファイルを作り直す。
// 秘密鍵のLinkと公開鍵のRenameの間でプロセスが落ちた状態から回復するために使う。
// 秘密鍵が読めない場合は何も書かずにエラーを返す。
func (s *FileStore) restorePublicKey() ([]byte, []byte, error) {
	privDER, err := os.ReadFile(s.PrivateKeyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(privDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: private key is unreadable: %w", errPublicKeyMissing, err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("%w: private key is %T", errPublicKeyMissing, parsed)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}

	tmpPub, err := writeTemp(filepath.Dir(s.path), pubDER, publicKeyPerm)
	if err != nil {
		return nil, nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.Rename(tmpPub, s.PublicKeyPath()); err != nil {
		os.Remove(tmpPub)
		return nil, nil, fmt.Errorf("publish public key: %w", err)
	}

	slog.Warn("public key file was missing, restored from private key",
		slog.String("path", s.PublicKeyPath()),
	)
	return privDER, pubDER, nil
}

// writeTemp はdir内に一時ファイルを作成してdataを書き込み、fsyncしてからパスを返す。
func writeTemp(dir string, data []byte, perm fs.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, ".salus-key-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
