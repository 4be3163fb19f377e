package provider

import "github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/providerdata"

// ProviderData is an alias for the shared ProviderData type, which lives in
// providerdata to break the import cycle with the resource packages.
type ProviderData = providerdata.ProviderData

// TargetConfigModel is an alias for the shared TargetConfigModel type.
type TargetConfigModel = providerdata.TargetConfigModel
