// Package model defines the typed invocation protocol shared by callers and
// the remote resource gateway: payload and result variants, the response
// envelope, and the errors raised when a round trip cannot complete.
package model

import "fmt"

// ResourceType is the first half of a resource tag pair.
type ResourceType string

// ResourceSubtype is the second half of a resource tag pair.
type ResourceSubtype string

// Resource types.
const (
	TypeDatabase ResourceType = "database"
	TypeAPI      ResourceType = "api"
	TypeStorage  ResourceType = "storage"
)

// Resource subtypes.
const (
	SubtypePostgreSQL ResourceSubtype = "postgresql"
	SubtypeCustom     ResourceSubtype = "custom"
	SubtypeHubSpot    ResourceSubtype = "hubspot"
	SubtypeS3         ResourceSubtype = "s3"
)

// ResourceKind identifies one of the supported resource families by its
// (type, subtype) tag pair.
type ResourceKind struct {
	Type    ResourceType    `json:"type" yaml:"type"`
	Subtype ResourceSubtype `json:"subtype" yaml:"subtype"`
}

// The closed set of resource families.
var (
	KindPostgreSQL = ResourceKind{Type: TypeDatabase, Subtype: SubtypePostgreSQL}
	KindCustomAPI  = ResourceKind{Type: TypeAPI, Subtype: SubtypeCustom}
	KindHubSpot    = ResourceKind{Type: TypeAPI, Subtype: SubtypeHubSpot}
	KindS3         = ResourceKind{Type: TypeStorage, Subtype: SubtypeS3}
)

// ResourceKinds returns every supported family in a stable order.
func ResourceKinds() []ResourceKind {
	return []ResourceKind{KindPostgreSQL, KindCustomAPI, KindHubSpot, KindS3}
}

// ParseResourceKind returns the family for the given tag pair, or an error if
// the pair is not one of the supported families.
func ParseResourceKind(typ, subtype string) (ResourceKind, error) {
	k := ResourceKind{Type: ResourceType(typ), Subtype: ResourceSubtype(subtype)}
	if !k.Valid() {
		return ResourceKind{}, fmt.Errorf("model: unsupported resource kind %q", k.String())
	}
	return k, nil
}

// Valid reports whether k is one of the supported families.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindPostgreSQL, KindCustomAPI, KindHubSpot, KindS3:
		return true
	}
	return false
}

func (k ResourceKind) String() string {
	return string(k.Type) + "/" + string(k.Subtype)
}

// ResultKind is the discriminator carried by every InvokeResult.
type ResultKind string

// Result kinds.
const (
	ResultDatabase ResultKind = "database"
	ResultAPI      ResultKind = "api"
	ResultStorage  ResultKind = "storage"
)

// ResultKindFor returns the result kind a gateway answers with for a
// payload of the given family.
func ResultKindFor(k ResourceKind) ResultKind {
	switch k.Type {
	case TypeDatabase:
		return ResultDatabase
	case TypeAPI:
		return ResultAPI
	default:
		return ResultStorage
	}
}

// HTTPMethod is the method used by the HTTP-style families.
type HTTPMethod string

// Supported methods.
const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// Valid reports whether m is a supported method.
func (m HTTPMethod) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// StorageCommand names one of the storage operations the gateway proxies.
type StorageCommand string

// The closed set of storage commands.
const (
	CmdListObjectsV2        StorageCommand = "ListObjectsV2"
	CmdHeadObject           StorageCommand = "HeadObject"
	CmdGetObjectTagging     StorageCommand = "GetObjectTagging"
	CmdPutObjectTagging     StorageCommand = "PutObjectTagging"
	CmdDeleteObject         StorageCommand = "DeleteObject"
	CmdDeleteObjects        StorageCommand = "DeleteObjects"
	CmdCopyObject           StorageCommand = "CopyObject"
	CmdListBuckets          StorageCommand = "ListBuckets"
	CmdGetBucketLocation    StorageCommand = "GetBucketLocation"
	CmdGeneratePresignedURL StorageCommand = "GeneratePresignedUrl"
)

// StorageCommands returns every storage command in declaration order.
func StorageCommands() []StorageCommand {
	return []StorageCommand{
		CmdListObjectsV2, CmdHeadObject, CmdGetObjectTagging, CmdPutObjectTagging,
		CmdDeleteObject, CmdDeleteObjects, CmdCopyObject, CmdListBuckets,
		CmdGetBucketLocation, CmdGeneratePresignedURL,
	}
}

// Valid reports whether c is one of the supported storage commands.
func (c StorageCommand) Valid() bool {
	for _, known := range StorageCommands() {
		if c == known {
			return true
		}
	}
	return false
}
