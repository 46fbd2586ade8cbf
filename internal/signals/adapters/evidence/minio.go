// Package evidence reads write-once evidence metadata.
package evidence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"vericrop/internal/signals/ports"
)

const collaborator = "evidence"

// User metadata keys written by the capture client, without the
// X-Amz-Meta- prefix.
const (
	MetaLatitude   = "Gps-Lat"
	MetaLongitude  = "Gps-Lon"
	MetaCapturedAt = "Captured-At"
	MetaDevice     = "Device-Info"
	MetaSHA256     = "Content-Sha256"
)

// ObjectStater is the subset of *minio.Client the store uses.
type ObjectStater interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinioStore reads evidence metadata with StatObject; object bytes are never fetched.
type MinioStore struct {
	client ObjectStater
	bucket string
}

func NewMinioStore(client ObjectStater, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

func (s *MinioStore) Metadata(ctx context.Context, ref string) (ports.EvidenceMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		switch {
		case resp.Code == "NoSuchKey" || resp.StatusCode == 404:
			return ports.EvidenceMetadata{}, ports.NewCollaboratorError(ports.ErrorNotFound, collaborator,
				fmt.Sprintf("evidence %s not found", ref), err)
		case ctx.Err() != nil:
			return ports.EvidenceMetadata{}, ports.NewCollaboratorError(ports.ErrorTimeout, collaborator, "stat timed out", err)
		default:
			return ports.EvidenceMetadata{}, ports.NewCollaboratorError(ports.ErrorOutage, collaborator, "stat evidence", err)
		}
	}
	return FromUserMetadata(ref, info.UserMetadata, info.Size), nil
}

// FromUserMetadata decodes capture metadata. Malformed or missing values are
// left zero so the forensics checks can grade them.
func FromUserMetadata(ref string, meta map[string]string, size int64) ports.EvidenceMetadata {
	get := func(key string) string {
		for k, v := range meta {
			if strings.EqualFold(k, key) {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	out := ports.EvidenceMetadata{
		Ref:         ref,
		DeviceInfo:  get(MetaDevice),
		ContentHash: strings.ToLower(get(MetaSHA256)),
		SizeBytes:   size,
	}
	lat, latErr := strconv.ParseFloat(get(MetaLatitude), 64)
	lon, lonErr := strconv.ParseFloat(get(MetaLongitude), 64)
	if latErr == nil && lonErr == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
		out.Capture = ports.GeoPoint{Latitude: lat, Longitude: lon}
		out.HasCapture = true
	}
	if ts, err := time.Parse(time.RFC3339, get(MetaCapturedAt)); err == nil {
		out.CapturedAt = ts.UTC()
	}
	return out
}
