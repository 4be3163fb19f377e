// Package providerdata holds the state the provider hands to its data
// sources and resources. It lives in its own package so resource packages
// can import it without importing the provider.
package providerdata

import (
	"github.com/hashicorp/terraform-plugin-framework/types"
	"golang.org/x/sync/semaphore"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// ProviderData is built in provider.Configure() and passed on through
// resp.ResourceData and resp.DataSourceData.
type ProviderData struct {
	// MaxConcurrency caps in-flight filesystem operations per walk.
	MaxConcurrency int
	DefaultTargets []string
	Targets        map[string]target.Target
	TargetConfigs  map[string]TargetConfigModel
	// Semaphore bounds object transfers across every target.
	Semaphore *semaphore.Weighted
}

// TargetConfigModel maps each target {} block in the provider configuration.
type TargetConfigModel struct {
	Name            types.String `tfsdk:"name"`
	Type            types.String `tfsdk:"type"`
	Prefix          types.String `tfsdk:"prefix"`
	Bucket          types.String `tfsdk:"bucket"`
	Region          types.String `tfsdk:"region"`
	KMSKeyID        types.String `tfsdk:"kms_key_id"`
	Endpoint        types.String `tfsdk:"endpoint"`
	KMSKeyName      types.String `tfsdk:"kms_key_name"`
	StorageAccount  types.String `tfsdk:"storage_account"`
	ContainerName   types.String `tfsdk:"container_name"`
	EncryptionScope types.String `tfsdk:"encryption_scope"`
	Host            types.String `tfsdk:"host"`
	Port            types.Int64  `tfsdk:"port"`
	User            types.String `tfsdk:"user"`
	Password        types.String `tfsdk:"password"`
	MaxRetries      types.Int64  `tfsdk:"max_retries"`
	RetryBackoff    types.String `tfsdk:"retry_backoff"`
}
