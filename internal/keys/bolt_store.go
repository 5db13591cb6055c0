package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var (
	keysBucket    = []byte("keys")
	privateKeyKey = []byte("private.pkcs8")
	publicKeyKey  = []byte("public.pkix")
)

// BoltStore は鍵素材をbboltデータベースのkeysバケットに保存する。
// 存在確認と作成を1つのUpdateトランザクションで行うため、
// 同じDBファイルを開く複数プロセス間でも作成は1回だけになる。
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore はpathのbboltデータベースを開く（存在しなければ作成する）。
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), keyDirPerm); err != nil {
		return nil, fmt.Errorf("create key db directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open key db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close はデータベースを閉じる。
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load は保存済みの鍵素材を返す。未作成の場合はErrNotFoundを返す。
func (s *BoltStore) Load(_ context.Context) ([]byte, []byte, error) {
	var privDER, pubDER []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		privDER, pubDER, err = readKeys(tx.Bucket(keysBucket))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return privDER, pubDER, nil
}

// CreateIfAbsent は鍵素材が未作成の場合のみ保存する。
func (s *BoltStore) CreateIfAbsent(_ context.Context, privDER, pubDER []byte) ([]byte, []byte, error) {
	var storedPriv, storedPub []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(keysBucket)
		if err != nil {
			return fmt.Errorf("create keys bucket: %w", err)
		}

		existingPriv, existingPub, err := readKeys(b)
		if err == nil {
			storedPriv, storedPub = existingPriv, existingPub
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := b.Put(privateKeyKey, privDER); err != nil {
			return fmt.Errorf("put private key: %w", err)
		}
		if err := b.Put(publicKeyKey, pubDER); err != nil {
			return fmt.Errorf("put public key: %w", err)
		}
		storedPriv, storedPub = privDER, pubDER
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return storedPriv, storedPub, nil
}

// readKeys はバケットから鍵素材をコピーして返す。
// bboltの値はトランザクション内でのみ有効なため必ずコピーする。
func readKeys(b *bolt.Bucket) ([]byte, []byte, error) {
	if b == nil {
		return nil, nil, ErrNotFound
	}
	priv := b.Get(privateKeyKey)
	if priv == nil {
		return nil, nil, ErrNotFound
	}
	pub := b.Get(publicKeyKey)
	if pub == nil {
		return nil, nil, errPublicKeyMissing
	}
	return append([]byte(nil), priv...), append([]byte(nil), pub...), nil
}

// compile-time interface check
var _ Store = (*BoltStore)(nil)
