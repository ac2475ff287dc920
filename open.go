package coldshock

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
)

// The storage client is safe for concurrent use and is only dialed the first
// time a gs:// path is actually opened, so tools that run on local files never
// touch the network.
var (
	clientOnce sync.Once
	client     *storage.Client
	clientErr  error
)

func storageClient() (*storage.Client, error) {
	clientOnce.Do(func() {
		client, clientErr = storage.NewClient(context.Background())
	})

	return client, clientErr
}

// IsGoogleStorage reports whether path refers to a Google Storage object.
func IsGoogleStorage(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

func splitGSPath(path string) (bucket, object string, err error) {
	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(pathParts) != 2 {
		return "", "", fmt.Errorf("tried to split google storage path %q into a bucket and an object, but got %d parts", path, len(pathParts))
	}

	return pathParts[0], pathParts[1], nil
}

// GSReadCloser adapts a Google Storage object handle to io.ReadCloser.
type GSReadCloser struct {
	*storage.ObjectHandle
	Context context.Context
	reader  *storage.Reader
}

func (o *GSReadCloser) Read(p []byte) (n int, err error) {
	if o.reader == nil {
		o.reader, err = o.NewReader(o.Context)
		if err != nil {
			return 0, err
		}
	}

	return o.reader.Read(p)
}

func (o *GSReadCloser) Close() error {
	if o.reader == nil {
		return nil
	}

	return o.reader.Close()
}

// Open opens a local file or, when the path starts with gs://, a Google
// Storage object with default credentials.
func Open(path string) (io.ReadCloser, error) {
	rc, _, err := OpenWithSize(path)

	return rc, err
}

// OpenWithSize behaves like Open and also reports the object size, which for
// gs:// paths costs one extra attributes call.
func OpenWithSize(path string) (io.ReadCloser, int64, error) {
	if IsGoogleStorage(path) {
		cl, err := storageClient()
		if err != nil {
			return nil, 0, pfx.Err(err)
		}

		bucketName, objectName, err := splitGSPath(path)
		if err != nil {
			return nil, 0, pfx.Err(err)
		}

		handle := &GSReadCloser{
			ObjectHandle: cl.Bucket(bucketName).Object(objectName),
			Context:      context.Background(),
		}

		attrs, err := handle.ObjectHandle.Attrs(handle.Context)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		return handle, attrs.Size, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, fstat.Size(), nil
}

// Exists reports whether the path can be opened, without reading it.
func Exists(path string) bool {
	if IsGoogleStorage(path) {
		cl, err := storageClient()
		if err != nil {
			return false
		}
		bucketName, objectName, err := splitGSPath(path)
		if err != nil {
			return false
		}
		_, err = cl.Bucket(bucketName).Object(objectName).Attrs(context.Background())

		return err == nil
	}

	_, err := os.Stat(path)

	return err == nil
}

// List returns the sorted base names of the entries directly under dir, which
// may be a local directory or a gs:// prefix.
func List(dir string) ([]string, error) {
	if IsGoogleStorage(dir) {
		cl, err := storageClient()
		if err != nil {
			return nil, pfx.Err(err)
		}
		bucketName, prefix, err := splitGSPath(strings.TrimSuffix(dir, "/") + "/")
		if err != nil {
			return nil, pfx.Err(err)
		}

		names := make([]string, 0)
		it := cl.Bucket(bucketName).Objects(context.Background(), &storage.Query{Prefix: prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, pfx.Err(err)
			}
			if attrs.Name == "" {
				// Sub-prefix entry.
				continue
			}
			names = append(names, strings.TrimPrefix(attrs.Name, prefix))
		}
		sort.Strings(names)

		return names, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

// JoinPath joins path elements, preserving the gs:// scheme when present.
func JoinPath(base string, elems ...string) string {
	if IsGoogleStorage(base) {
		parts := append([]string{strings.TrimSuffix(base, "/")}, elems...)

		return strings.Join(parts, "/")
	}

	return filepath.Join(append([]string{base}, elems...)...)
}
