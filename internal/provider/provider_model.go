package provider

import "github.com/hashicorp/terraform-plugin-framework/types"

// ProviderModel maps the provider schema to a Go struct.
type ProviderModel struct {
	MaxConcurrency types.Int64         `tfsdk:"max_concurrency"`
	DefaultTargets types.List          `tfsdk:"default_targets"` // List of strings
	Targets        []TargetConfigModel `tfsdk:"target"`
}
