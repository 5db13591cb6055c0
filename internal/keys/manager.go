// Package keys はセッショントークン署名用RSA鍵ペアの読み込みと初回生成を提供する。
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/salus/internal/model"
)

// MinBits はRSA鍵の最小ビット長。
const MinBits = 2048

// ErrNotFound は保存領域に鍵がまだ存在しないことを示す。
var ErrNotFound = errors.New("key material not found")

// Store は鍵素材（PKCS#8の秘密鍵とPKIXの公開鍵、いずれもDER）の永続化インターフェース。
type Store interface {
	// Load は保存済みの鍵素材を返す。未作成の場合はErrNotFoundを返す。
	Load(ctx context.Context) (privDER, pubDER []byte, err error)
	// CreateIfAbsent は鍵素材が未作成の場合のみ保存する。
	// 既に他の呼び出しが保存していた場合は、渡された値を破棄して保存済みの値を返す。
	CreateIfAbsent(ctx context.Context, privDER, pubDER []byte) (storedPriv, storedPub []byte, err error)
}

// Keypair はプロセス内で唯一の署名鍵ペア。読み込み後は変更しない。
type Keypair struct {
	private *rsa.PrivateKey
}

// PrivateKey は署名用の秘密鍵を返す。
func (k *Keypair) PrivateKey() *rsa.PrivateKey {
	return k.private
}

// PublicKey は検証用の公開鍵を返す。
func (k *Keypair) PublicKey() *rsa.PublicKey {
	return &k.private.PublicKey
}

// Manager は鍵ペアの読み込みまたは初回生成を行い、結果をプロセス内で保持する。
type Manager struct {
	store Store
	bits  int

	generate func(bits int) (*rsa.PrivateKey, error)

	mu      sync.Mutex
	keypair *Keypair
}

// NewManager はManagerを生成する。bitsがMinBits未満の場合はMinBitsを使用する。
func NewManager(store Store, bits int) *Manager {
	if bits < MinBits {
		bits = MinBits
	}
	return &Manager{
		store: store,
		bits:  bits,
		generate: func(bits int) (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, bits)
		},
	}
}

// LoadOrCreate は保存済みの鍵ペアを読み込む。存在しない場合は新規に生成して保存してから返す。
// 保存領域が壊れている場合はmodel.ErrKeyIO、生成に失敗した場合はmodel.ErrKeyGenを返す。
func (m *Manager) LoadOrCreate(ctx context.Context) (*Keypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair != nil {
		return m.keypair, nil
	}

	privDER, pubDER, err := m.store.Load(ctx)
	switch {
	case err == nil:
		kp, err := parseKeypair(privDER, pubDER)
		if err != nil {
			return nil, err
		}
		slog.Info("signing key loaded", slog.Int("bits", kp.private.N.BitLen()))
		m.keypair = kp
		return kp, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%w: %w", model.ErrKeyIO, err)
	}

	priv, err := m.generate(m.bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrKeyGen, err)
	}
	privDER, pubDER, err = encodeKeypair(priv)
	if err != nil {
		return nil, err
	}

	storedPriv, storedPub, err := m.store.CreateIfAbsent(ctx, privDER, pubDER)
	if err != nil {
		return nil, fmt.Errorf("%w: persist generated key: %w", model.ErrKeyIO, err)
	}

	kp, err := parseKeypair(storedPriv, storedPub)
	if err != nil {
		return nil, err
	}
	if kp.private.Equal(priv) {
		slog.Info("signing key generated", slog.Int("bits", m.bits))
	} else {
		slog.Info("signing key created concurrently by another process, using stored key")
	}
	m.keypair = kp
	return kp, nil
}

// encodeKeypair は秘密鍵をPKCS#8、公開鍵をPKIX（X.509 SubjectPublicKeyInfo）のDERに変換する。
func encodeKeypair(priv *rsa.PrivateKey) ([]byte, []byte, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode private key: %w", model.ErrKeyGen, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode public key: %w", model.ErrKeyGen, err)
	}
	return privDER, pubDER, nil
}

// parseKeypair はDERを復元し、公開鍵が秘密鍵と対応していることを確認する。
func parseKeypair(privDER, pubDER []byte) (*Keypair, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", model.ErrKeyIO, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", model.ErrKeyIO, parsed)
	}
	if priv.N.BitLen() < MinBits {
		return nil, fmt.Errorf("%w: private key is %d bits, minimum is %d", model.ErrKeyIO, priv.N.BitLen(), MinBits)
	}

	parsedPub, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %w", model.ErrKeyIO, err)
	}
	pub, ok := parsedPub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", model.ErrKeyIO, parsedPub)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("%w: public key does not match private key", model.ErrKeyIO)
	}

	return &Keypair{private: priv}, nil
}
