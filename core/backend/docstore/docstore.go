/*Package docstore stores attachment documents outside of the database.

Mapped resources configured with_attachment keep only the metadata row
in postgres; the document itself goes to a docstore driver. There are
two drivers: a local filesystem for development and single-instance
deployments, and AWS S3.
*/
package docstore

import (
	"context"
	"io"
)

// Driver is the storage interface for attachment documents.
type Driver interface {
	// Put stores a document under the key, replacing any previous
	// version.
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	// Get returns the document and its content type. The caller must
	// close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	// Delete removes the document. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
	// DeleteAllWithPrefix removes all documents whose key starts with
	// the prefix.
	DeleteAllWithPrefix(ctx context.Context, prefix string) error
}

// DriverType selects the docstore implementation.
type DriverType string

const (
	// DriverTypeLocal is the local filesystem driver
	DriverTypeLocal DriverType = "local"
	// DriverTypeS3 is the AWS S3 driver
	DriverTypeS3 DriverType = "s3"
	// None disables the document store
	None DriverType = ""
)
