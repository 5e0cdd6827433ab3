package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creatorhub/creatorhub/pkg/dbutil"
)

// maxActivateAttempts bounds retries of an activation that lost a race on
// the single-active index
const maxActivateAttempts = 3

// StorageSetting is one configured backend. At most one row is active.
type StorageSetting struct {
	ID                   int64                  `json:"id"`
	Driver               string                 `json:"driver"`
	Key                  string                 `json:"key"`
	Secret               string                 `json:"-"`
	Region               string                 `json:"region"`
	Bucket               string                 `json:"bucket"`
	Endpoint             string                 `json:"endpoint"`
	URL                  string                 `json:"url"`
	UsePathStyleEndpoint bool                   `json:"use_path_style_endpoint"`
	RootPath             string                 `json:"root_path"`
	Metadata             map[string]interface{} `json:"metadata"`
	Active               bool                   `json:"active"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// Config returns the driver configuration of the setting
func (s *StorageSetting) Config() Config {
	return Config{
		Driver:               s.Driver,
		Key:                  s.Key,
		Secret:               s.Secret,
		Region:               s.Region,
		Bucket:               s.Bucket,
		Endpoint:             s.Endpoint,
		URL:                  s.URL,
		UsePathStyleEndpoint: s.UsePathStyleEndpoint,
		RootPath:             s.RootPath,
		Metadata:             s.Metadata,
	}
}

// MarshalJSON renders the setting for clients: the secret is never included
// and the key is masked down to its last four characters
func (s StorageSetting) MarshalJSON() ([]byte, error) {
	type plain StorageSetting
	return json.Marshal(struct {
		plain
		Key       string `json:"key"`
		HasSecret bool   `json:"has_secret"`
	}{
		plain:     plain(s),
		Key:       maskKey(s.Key),
		HasSecret: s.Secret != "",
	})
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// SettingRepository is the storage setting persistence used by handlers
type SettingRepository interface {
	ActiveSource
	Get(ctx context.Context, id int64) (*StorageSetting, error)
	List(ctx context.Context) ([]StorageSetting, error)
	Create(ctx context.Context, s *StorageSetting) error
	Update(ctx context.Context, id int64, patch *ConfigPatch, check func(Config) error) (*StorageSetting, error)
	Activate(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// SettingStore persists storage settings
type SettingStore struct {
	db  *sql.DB
	box *SecretBox
}

// NewSettingStore creates a setting store. box may be nil.
func NewSettingStore(db *sql.DB, box *SecretBox) *SettingStore {
	return &SettingStore{db: db, box: box}
}

const settingColumns = `id, driver, access_key, secret, region, bucket, endpoint, url,
	use_path_style_endpoint, root_path, metadata, active, created_at, updated_at`

func (s *SettingStore) scan(row interface{ Scan(...interface{}) error }) (*StorageSetting, error) {
	var st StorageSetting
	var meta []byte
	if err := row.Scan(&st.ID, &st.Driver, &st.Key, &st.Secret, &st.Region, &st.Bucket, &st.Endpoint, &st.URL,
		&st.UsePathStyleEndpoint, &st.RootPath, &meta, &st.Active, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &st.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of setting %d: %w", st.ID, err)
		}
	}
	secret, err := s.box.Open(st.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret of setting %d: %w", st.ID, err)
	}
	st.Secret = secret
	return &st, nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

// Create inserts a setting. An active setting replaces the current active
// one in the same transaction.
func (s *SettingStore) Create(ctx context.Context, st *StorageSetting) error {
	sealed, err := s.box.Seal(st.Secret)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(st.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if st.Active {
			if _, err := tx.ExecContext(ctx,
				`UPDATE storage_settings SET active = FALSE, updated_at = $1 WHERE active = TRUE`, now); err != nil {
				return fmt.Errorf("failed to deactivate settings: %w", err)
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO storage_settings (driver, access_key, secret, region, bucket, endpoint, url,
				use_path_style_endpoint, root_path, metadata, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`, st.Driver, st.Key, sealed, st.Region, st.Bucket, st.Endpoint, st.URL,
			st.UsePathStyleEndpoint, st.RootPath, meta, st.Active, now, now).Scan(&st.ID)
	})
	if dbutil.IsUniqueViolation(err) {
		return newError(ErrActivationConflict, "create setting", st.Driver, "", err)
	}
	if err != nil {
		return fmt.Errorf("failed to create storage setting: %w", err)
	}
	st.CreatedAt = now
	st.UpdatedAt = now
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Get returns a setting by ID
func (s *SettingStore) Get(ctx context.Context, id int64) (*StorageSetting, error) {
	return s.get(ctx, s.db, id)
}

func (s *SettingStore) get(ctx context.Context, q queryRower, id int64) (*StorageSetting, error) {
	st, err := s.scan(q.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM storage_settings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrSettingNotFound, "get setting", "", "", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage setting: %w", err)
	}
	return st, nil
}

// GetActive returns the single active setting or ErrNoActiveConfig
func (s *SettingStore) GetActive(ctx context.Context) (*StorageSetting, error) {
	st, err := s.scan(s.db.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM storage_settings WHERE active = TRUE`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrNoActiveConfig, "get active setting", "", "", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active storage setting: %w", err)
	}
	return st, nil
}

// List returns all settings ordered by ID
func (s *SettingStore) List(ctx context.Context) ([]StorageSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+settingColumns+` FROM storage_settings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage settings: %w", err)
	}
	defer rows.Close()

	var out []StorageSetting
	for rows.Next() {
		st, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// CountActive returns how many rows are flagged active; 0 or 1
func (s *SettingStore) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM storage_settings WHERE active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active settings: %w", err)
	}
	return n, nil
}

// Update applies the supplied fields of patch. Omitted fields keep their
// stored value. check, when set, sees the merged config inside the update
// transaction after the row is locked; an error from it rolls the update back
// and is returned as is.
func (s *SettingStore) Update(ctx context.Context, id int64, patch *ConfigPatch, check func(Config) error) (*StorageSetting, error) {
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addString := func(col string, v *string) {
		if v != nil {
			add(col, *v)
		}
	}

	addString("driver", patch.Driver)
	addString("access_key", patch.Key)
	if patch.Secret != nil {
		sealed, err := s.box.Seal(*patch.Secret)
		if err != nil {
			return nil, err
		}
		add("secret", sealed)
	}
	addString("region", patch.Region)
	addString("bucket", patch.Bucket)
	addString("endpoint", patch.Endpoint)
	addString("url", patch.URL)
	if patch.UsePathStyleEndpoint != nil {
		add("use_path_style_endpoint", *patch.UsePathStyleEndpoint)
	}
	addString("root_path", patch.RootPath)
	if patch.Metadata != nil {
		meta, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return nil, err
		}
		add("metadata", meta)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE storage_settings SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	var st *StorageSetting
	err := dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update storage setting: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return newError(ErrSettingNotFound, "update setting", "", "", nil)
		}
		if st, err = s.get(ctx, tx, id); err != nil {
			return err
		}
		if check != nil {
			return check(st.Config())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Activate makes id the active setting. The previous active row is
// deactivated in the same transaction, so readers see either the old or the
// new row and never zero or two.
func (s *SettingStore) Activate(ctx context.Context, id int64) error {
	var err error
	for attempt := 0; attempt < maxActivateAttempts; attempt++ {
		err = dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
			var active bool
			err := tx.QueryRowContext(ctx, `SELECT active FROM storage_settings WHERE id = $1`, id).Scan(&active)
			if errors.Is(err, sql.ErrNoRows) {
				return newError(ErrSettingNotFound, "activate setting", "", "", nil)
			}
			if err != nil {
				return fmt.Errorf("failed to get storage setting: %w", err)
			}
			if active {
				return nil
			}

			now := time.Now().UTC()
			if _, err := tx.ExecContext(ctx,
				`UPDATE storage_settings SET active = FALSE, updated_at = $1 WHERE active = TRUE`, now); err != nil {
				return fmt.Errorf("failed to deactivate settings: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE storage_settings SET active = TRUE, updated_at = $1 WHERE id = $2`, now, id); err != nil {
				return fmt.Errorf("failed to activate setting: %w", err)
			}
			return nil
		})
		if err == nil || !dbutil.IsUniqueViolation(err) {
			return err
		}
	}
	return newError(ErrActivationConflict, "activate setting", "", "", err)
}

// Deactivate clears the active flag of id. Afterwards no setting is active.
func (s *SettingStore) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE storage_settings SET active = FALSE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate storage setting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newError(ErrSettingNotFound, "deactivate setting", "", "", nil)
	}
	return nil
}

// Delete removes an inactive setting
func (s *SettingStore) Delete(ctx context.Context, id int64) error {
	return dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM storage_settings WHERE id = $1`, id).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return newError(ErrSettingNotFound, "delete setting", "", "", nil)
		}
		if err != nil {
			return fmt.Errorf("failed to get storage setting: %w", err)
		}
		if active {
			return newError(ErrActiveSettingDelete, "delete setting", "", "", nil)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM storage_settings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete storage setting: %w", err)
		}
		return nil
	})
}
