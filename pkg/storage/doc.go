// Package storage is the file storage abstraction used by every content module.
//
// A Driver offers the same five operations (Put, Get, Delete, Exists, URL) over
// local disk and the S3 compatible providers: AWS S3, DigitalOcean Spaces,
// Contabo, Cloudflare R2 and Backblaze B2. Drivers are cheap to build and hold
// nothing beyond their Config, so callers obtain one per operation:
//
//	driver, err := factory.Make(ctx, "", nil) // the active setting
//	if err != nil {
//		return err
//	}
//	fd, err := driver.Put(ctx, "audio/42/track.mp3", data, storage.VisibilityPublic)
//
// Which backend is in effect is decided by the single active StorageSetting
// row. SettingStore guarantees that at most one row is active: activation
// swaps the flag inside one transaction and a partial unique index rejects a
// second active row. CachedSettings keeps the active row in Redis behind a
// generation counter so that a switch is visible to the next Make call.
//
// Every failure is a *Error carrying its kind (ErrWrite, ErrRead, ErrTimeout,
// ErrNotFound, ErrNoActiveConfig, ErrUnsupportedDriver, ...) and the backend
// error, so both errors.Is(err, storage.ErrTimeout) and errors.As on the SDK
// error work. Nothing in this package retries.
package storage
