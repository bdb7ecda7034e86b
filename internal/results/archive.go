package results

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// Uploader stores archives next to the transient reports.
type Uploader interface {
	UploadStream(ctx context.Context, objectKey string, stream io.Reader) error
}

// ArchiveKey is where the archive of one site batch is uploaded.
func ArchiveKey(site int, day time.Time) string {
	return fmt.Sprintf("archives/%d/%s.zip", site, day.Format("2006-01-02"))
}

// Archive writes the given reports as a deflated zip to w.
func Archive(ctx context.Context, store Store, keys []Key, w io.Writer) error {
	archive := zip.NewWriter(w)

	for _, k := range keys {
		data, err := store.Get(ctx, k)
		if err != nil {
			archive.Close()
			return err
		}

		header := &zip.FileHeader{
			Name:   k.Name(),
			Method: zip.Deflate,
		}
		header.Modified = time.Now()

		writer, err := archive.CreateHeader(header)
		if err != nil {
			archive.Close()
			return fmt.Errorf("results: archive %s: %w", k.Name(), err)
		}
		if _, err := writer.Write(data); err != nil {
			archive.Close()
			return fmt.Errorf("results: archive %s: %w", k.Name(), err)
		}
	}

	return archive.Close()
}

// ArchiveAndUpload zips the reports in memory and hands them to up.
func ArchiveAndUpload(ctx context.Context, store Store, up Uploader, site int, day time.Time, keys []Key) (string, error) {
	var buf bytes.Buffer
	if err := Archive(ctx, store, keys, &buf); err != nil {
		return "", err
	}
	objectKey := ArchiveKey(site, day)
	if err := up.UploadStream(ctx, objectKey, &buf); err != nil {
		return "", fmt.Errorf("results: upload %s: %w", objectKey, err)
	}
	return objectKey, nil
}
