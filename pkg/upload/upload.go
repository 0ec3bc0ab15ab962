package upload

import "context"

// Uploader publishes database snapshots to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads a single file under the configured prefix and
	// returns the object key it was stored at.
	UploadFile(ctx context.Context, localPath string) (string, error)

	// WriteManifest points the latest manifest at a published snapshot.
	WriteManifest(ctx context.Context, m *Manifest) error
}
