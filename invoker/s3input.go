package invoker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/pitabwire/appgate/model"
)

// Presign operations accepted by PresignPayload.
const (
	PresignGetObject = "GetObject"
	PresignPutObject = "PutObject"
)

// StoragePayloadFromInput converts an aws-sdk-go S3 input into a storage
// payload. Params use the SDK's field names; unset fields are dropped. The
// input is validated with the SDK's own rules first.
func StoragePayloadFromInput(input any) (model.StoragePayload, error) {
	var cmd model.StorageCommand
	switch input.(type) {
	case *s3.ListObjectsV2Input:
		cmd = model.CmdListObjectsV2
	case *s3.HeadObjectInput:
		cmd = model.CmdHeadObject
	case *s3.GetObjectTaggingInput:
		cmd = model.CmdGetObjectTagging
	case *s3.PutObjectTaggingInput:
		cmd = model.CmdPutObjectTagging
	case *s3.DeleteObjectInput:
		cmd = model.CmdDeleteObject
	case *s3.DeleteObjectsInput:
		cmd = model.CmdDeleteObjects
	case *s3.CopyObjectInput:
		cmd = model.CmdCopyObject
	case *s3.ListBucketsInput:
		cmd = model.CmdListBuckets
	case *s3.GetBucketLocationInput:
		cmd = model.CmdGetBucketLocation
	default:
		return model.StoragePayload{}, fmt.Errorf("%w: unsupported storage input %T", model.ErrInvalidPayload, input)
	}

	if v, ok := input.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return model.StoragePayload{}, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, cmd, err)
		}
	}

	params, err := inputParams(input)
	if err != nil {
		return model.StoragePayload{}, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, cmd, err)
	}
	return model.NewStoragePayload(cmd, params), nil
}

// NewStorageInput returns an empty aws-sdk-go input for cmd, ready to be
// filled and passed to StoragePayloadFromInput. GeneratePresignedUrl has no
// SDK input; use PresignPayload for it.
func NewStorageInput(cmd model.StorageCommand) (any, bool) {
	switch cmd {
	case model.CmdListObjectsV2:
		return &s3.ListObjectsV2Input{}, true
	case model.CmdHeadObject:
		return &s3.HeadObjectInput{}, true
	case model.CmdGetObjectTagging:
		return &s3.GetObjectTaggingInput{}, true
	case model.CmdPutObjectTagging:
		return &s3.PutObjectTaggingInput{}, true
	case model.CmdDeleteObject:
		return &s3.DeleteObjectInput{}, true
	case model.CmdDeleteObjects:
		return &s3.DeleteObjectsInput{}, true
	case model.CmdCopyObject:
		return &s3.CopyObjectInput{}, true
	case model.CmdListBuckets:
		return &s3.ListBucketsInput{}, true
	case model.CmdGetBucketLocation:
		return &s3.GetBucketLocationInput{}, true
	}
	return nil, false
}

// PresignPayload builds a GeneratePresignedUrl payload for a single object.
func PresignPayload(bucket, key, operation string, expires time.Duration) (model.StoragePayload, error) {
	if bucket == "" || key == "" {
		return model.StoragePayload{}, fmt.Errorf("%w: bucket and key are required", model.ErrInvalidPayload)
	}
	if operation != PresignGetObject && operation != PresignPutObject {
		return model.StoragePayload{}, fmt.Errorf("%w: unsupported presign operation %q", model.ErrInvalidPayload, operation)
	}
	if expires < time.Second {
		return model.StoragePayload{}, fmt.Errorf("%w: expiry must be at least one second", model.ErrInvalidPayload)
	}
	return model.NewStoragePayload(model.CmdGeneratePresignedURL, map[string]any{
		"Bucket":    bucket,
		"Key":       key,
		"Operation": operation,
		"ExpiresIn": int64(expires / time.Second),
	}), nil
}

// inputParams round-trips the SDK struct through JSON, which keeps the
// exported field names, and strips nulls left by unset pointers.
func inputParams(input any) (map[string]any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return stripNulls(params), nil
}

func stripNulls(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			m[k] = stripNulls(val)
		case []any:
			for i, item := range val {
				if nested, ok := item.(map[string]any); ok {
					val[i] = stripNulls(nested)
				}
			}
		}
	}
	return m
}
