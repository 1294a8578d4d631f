package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// MemoryVerificationStore keeps verification records in process. It is the
// default store for brokers constructed without one.
type MemoryVerificationStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{
		records: make(map[string]map[string]any),
	}
}

var _ VerificationStore = (*MemoryVerificationStore)(nil)

func storeKey(namespace, uid string) string {
	return namespace + "/" + uid
}

func (s *MemoryVerificationStore) Load(_ context.Context, namespace, uid string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[storeKey(namespace, uid)]
	if !ok {
		return nil, nil
	}
	clone := make(map[string]any, len(record))
	for k, v := range record {
		clone[k] = v
	}
	return clone, nil
}

func (s *MemoryVerificationStore) Save(_ context.Context, namespace, uid string, info map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := make(map[string]any, len(info))
	for k, v := range info {
		clone[k] = v
	}
	s.records[storeKey(namespace, uid)] = clone
	return nil
}

func (s *MemoryVerificationStore) Remove(_ context.Context, namespace, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, storeKey(namespace, uid))
	return nil
}

// VerificationRecord is the persisted row backing BunVerificationStore.
type VerificationRecord struct {
	bun.BaseModel `bun:"table:verification_records,alias:vr"`

	Namespace string    `bun:"namespace,pk" json:"namespace"`
	UID       string    `bun:"uid,pk" json:"uid"`
	Payload   string    `bun:"payload,notnull" json:"payload"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// BunVerificationStore persists verification records through bun. Call Init
// once before first use to ensure the table exists.
type BunVerificationStore struct {
	db *bun.DB
}

func NewBunVerificationStore(db *bun.DB) *BunVerificationStore {
	return &BunVerificationStore{db: db}
}

var _ VerificationStore = (*BunVerificationStore)(nil)

// OpenVerificationDB opens a sqlite-backed bun handle suitable for
// NewBunVerificationStore. Use ":memory:" for throwaway stores.
func OpenVerificationDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to open verification database")
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func (s *BunVerificationStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*VerificationRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to create verification table")
	}
	return nil
}

func (s *BunVerificationStore) Load(ctx context.Context, namespace, uid string) (map[string]any, error) {
	record := new(VerificationRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("namespace = ?", namespace).
		Where("uid = ?", uid).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to load verification record")
	}

	info := map[string]any{}
	if err := json.Unmarshal([]byte(record.Payload), &info); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to decode verification record")
	}
	return info, nil
}

func (s *BunVerificationStore) Save(ctx context.Context, namespace, uid string, info map[string]any) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode verification record")
	}

	record := &VerificationRecord{
		Namespace: namespace,
		UID:       uid,
		Payload:   string(payload),
		UpdatedAt: time.Now(),
	}

	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (namespace, uid) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to save verification record")
	}
	return nil
}

func (s *BunVerificationStore) Remove(ctx context.Context, namespace, uid string) error {
	_, err := s.db.NewDelete().
		Model((*VerificationRecord)(nil)).
		Where("namespace = ?", namespace).
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to remove verification record")
	}
	return nil
}
