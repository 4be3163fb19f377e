package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/semaphore"

	filesdatasource "github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/datasource/files"
	snapshotresource "github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/resource/snapshot"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// Ensure PkgManifestProvider satisfies the provider.Provider interface.
var _ provider.Provider = &PkgManifestProvider{}

// PkgManifestProvider implements the pkgmanifest Terraform provider.
type PkgManifestProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and run locally.
	version string
}

// New returns a factory function that creates a new PkgManifestProvider
// for the given version string. This is the entry-point used in main.go.
func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &PkgManifestProvider{
			version: version,
		}
	}
}

// Metadata returns the provider type name.
func (p *PkgManifestProvider) Metadata(_ context.Context, _ provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "pkgmanifest"
	resp.Version = p.version
}

// Schema returns the provider schema.
func (p *PkgManifestProvider) Schema(_ context.Context, _ provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The pkgmanifest provider walks package directories, honouring their `.npmignore`, `.gitignore` and `.distignore` files, and publishes the resulting file manifests to one or more storage targets.",
		Attributes: map[string]schema.Attribute{
			"max_concurrency": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of concurrent filesystem and storage operations. Defaults to `16`.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"default_targets": schema.ListAttribute{
				MarkdownDescription: "List of target names that snapshots are published to when their own `targets` argument is not set.",
				Optional:            true,
				ElementType:         types.StringType,
			},
		},
		Blocks: map[string]schema.Block{
			"target": schema.ListNestedBlock{
				MarkdownDescription: "Defines a storage target for manifest snapshots. Only `pkgmanifest_snapshot` needs a target; the `pkgmanifest_files` data source works without one.",
				NestedObject: schema.NestedBlockObject{
					Attributes: map[string]schema.Attribute{
						"name": schema.StringAttribute{
							MarkdownDescription: "Unique name used to reference this target in resource configurations and `default_targets`.",
							Required:            true,
							Validators: []validator.String{
								stringvalidator.LengthAtLeast(1),
							},
						},
						"type": schema.StringAttribute{
							MarkdownDescription: "Storage backend type. Supported values are `\"s3\"`, `\"azure\"`, `\"gcs\"`, `\"sftp\"` and `\"memory\"`.",
							Required:            true,
							Validators: []validator.String{
								stringvalidator.OneOf(target.Types...),
							},
						},
						"prefix": schema.StringAttribute{
							MarkdownDescription: "Key prefix prepended to all object paths within the target.",
							Optional:            true,
						},
						"bucket": schema.StringAttribute{
							MarkdownDescription: "Bucket that receives snapshots. Required when `type` is `s3` or `gcs`.",
							Optional:            true,
						},
						"region": schema.StringAttribute{
							MarkdownDescription: "AWS region for the S3 bucket.",
							Optional:            true,
						},
						"kms_key_id": schema.StringAttribute{
							MarkdownDescription: "KMS key ID or ARN for SSE-KMS encryption of manifests written to S3.",
							Optional:            true,
						},
						"endpoint": schema.StringAttribute{
							MarkdownDescription: "Endpoint URL of an S3-compatible store such as MinIO. Enables path-style addressing.",
							Optional:            true,
						},
						"kms_key_name": schema.StringAttribute{
							MarkdownDescription: "Cloud KMS key resource name that encrypts manifests written to GCS.",
							Optional:            true,
						},
						"storage_account": schema.StringAttribute{
							MarkdownDescription: "Storage account holding the container. Required when `type` is `azure`.",
							Optional:            true,
						},
						"container_name": schema.StringAttribute{
							MarkdownDescription: "Blob container that receives snapshots. Required when `type` is `azure`.",
							Optional:            true,
						},
						"encryption_scope": schema.StringAttribute{
							MarkdownDescription: "Encryption scope applied to every manifest blob.",
							Optional:            true,
						},
						"host": schema.StringAttribute{
							MarkdownDescription: "SFTP server host. Required for `sftp` target type.",
							Optional:            true,
						},
						"port": schema.Int64Attribute{
							MarkdownDescription: "SFTP server port. Defaults to `22`.",
							Optional:            true,
							Validators: []validator.Int64{
								int64validator.Between(1, 65535),
							},
						},
						"user": schema.StringAttribute{
							MarkdownDescription: "SFTP user name. Required for `sftp` target type.",
							Optional:            true,
						},
						"password": schema.StringAttribute{
							MarkdownDescription: "SFTP password. When omitted the password is looked up in the system keyring under the `pkgmanifest` service and `user@host` account.",
							Optional:            true,
							Sensitive:           true,
						},
						"max_retries": schema.Int64Attribute{
							MarkdownDescription: "How many times a failed request to this target is retried before the operation fails. Defaults to `3`; `0` disables retries.",
							Optional:            true,
							Validators: []validator.Int64{
								int64validator.AtLeast(0),
							},
						},
						"retry_backoff": schema.StringAttribute{
							MarkdownDescription: "Retry backoff strategy for this target. Supported values are `\"exponential\"` and `\"linear\"`. Defaults to `\"exponential\"`.",
							Optional:            true,
							Validators: []validator.String{
								stringvalidator.OneOf(target.BackoffExponential, target.BackoffLinear),
							},
						},
					},
				},
			},
		},
	}
}

// Configure parses the provider configuration, builds target.Target
// instances and stores everything in ProviderData for downstream resources
// and data sources.
func (p *PkgManifestProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var config ProviderModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &config)...)
	if resp.Diagnostics.HasError() {
		return
	}

	// ----------------------------------------------------------------
	// Resolve top-level defaults
	// ----------------------------------------------------------------
	maxConcurrency := int64(walker.DefaultConcurrency)
	if !config.MaxConcurrency.IsNull() && !config.MaxConcurrency.IsUnknown() {
		maxConcurrency = config.MaxConcurrency.ValueInt64()
	}

	var defaultTargets []string
	if !config.DefaultTargets.IsNull() && !config.DefaultTargets.IsUnknown() {
		resp.Diagnostics.Append(config.DefaultTargets.ElementsAs(ctx, &defaultTargets, false)...)
		if resp.Diagnostics.HasError() {
			return
		}
	}

	// ----------------------------------------------------------------
	// Validate and build targets
	// ----------------------------------------------------------------
	targets := make(map[string]target.Target, len(config.Targets))
	targetConfigs := make(map[string]TargetConfigModel, len(config.Targets))

	for _, tc := range config.Targets {
		name := tc.Name.ValueString()
		if name == "" {
			resp.Diagnostics.AddError(
				"Invalid Target Configuration",
				"Every target block must have a non-empty name attribute.",
			)
			return
		}

		if _, exists := targets[name]; exists {
			resp.Diagnostics.AddError(
				"Duplicate Target Name",
				fmt.Sprintf("Target name %q is defined more than once.", name),
			)
			return
		}

		t, err := target.NewTarget(ctx, targetConfig(tc))
		if err != nil {
			resp.Diagnostics.AddError(
				"Target Initialization Failed",
				fmt.Sprintf("Failed to create target %q: %s", name, err),
			)
			return
		}

		targets[name] = t
		targetConfigs[name] = tc
	}

	// Every entry in default_targets must reference a defined target.
	for _, dt := range defaultTargets {
		if _, exists := targets[dt]; !exists {
			resp.Diagnostics.AddError(
				"Invalid Default Target",
				fmt.Sprintf("default_targets references %q which is not defined as a target block.", dt),
			)
			return
		}
	}

	tflog.Debug(ctx, "configured pkgmanifest provider", map[string]interface{}{
		"max_concurrency": maxConcurrency,
		"targets":         len(targets),
	})

	// ----------------------------------------------------------------
	// Build ProviderData and share with resources / data sources
	// ----------------------------------------------------------------
	pd := &ProviderData{
		MaxConcurrency: int(maxConcurrency),
		DefaultTargets: defaultTargets,
		Targets:        targets,
		TargetConfigs:  targetConfigs,
		Semaphore:      semaphore.NewWeighted(maxConcurrency),
	}

	resp.DataSourceData = pd
	resp.ResourceData = pd
}

// targetConfig resolves per-target defaults and converts a target block
// into a target.Config.
func targetConfig(tc TargetConfigModel) target.Config {
	maxRetries := int64(3)
	if !tc.MaxRetries.IsNull() && !tc.MaxRetries.IsUnknown() {
		maxRetries = tc.MaxRetries.ValueInt64()
	}

	retryBackoff := target.BackoffExponential
	if !tc.RetryBackoff.IsNull() && !tc.RetryBackoff.IsUnknown() {
		retryBackoff = tc.RetryBackoff.ValueString()
	}

	return target.Config{
		Name:            tc.Name.ValueString(),
		Type:            tc.Type.ValueString(),
		Prefix:          tc.Prefix.ValueString(),
		Bucket:          tc.Bucket.ValueString(),
		Region:          tc.Region.ValueString(),
		KMSKeyID:        tc.KMSKeyID.ValueString(),
		Endpoint:        tc.Endpoint.ValueString(),
		KMSKeyName:      tc.KMSKeyName.ValueString(),
		StorageAccount:  tc.StorageAccount.ValueString(),
		ContainerName:   tc.ContainerName.ValueString(),
		EncryptionScope: tc.EncryptionScope.ValueString(),
		Host:            tc.Host.ValueString(),
		Port:            int(tc.Port.ValueInt64()),
		User:            tc.User.ValueString(),
		Password:        tc.Password.ValueString(),
		MaxRetries:      int(maxRetries),
		RetryBackoff:    retryBackoff,
	}
}

// Resources returns the set of resource types supported by this provider.
func (p *PkgManifestProvider) Resources(_ context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		snapshotresource.NewSnapshotResource,
	}
}

// DataSources returns the set of data source types supported by this provider.
func (p *PkgManifestProvider) DataSources(_ context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		filesdatasource.NewFilesDataSource,
	}
}
