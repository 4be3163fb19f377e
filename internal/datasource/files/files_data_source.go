// Package files implements the pkgmanifest_files data source, which walks a
// package directory and exposes its manifest.
package files

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/providerdata"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// Compile-time interface checks.
var (
	_ datasource.DataSource              = &FilesDataSource{}
	_ datasource.DataSourceWithConfigure = &FilesDataSource{}
)

// NewFilesDataSource returns a new datasource.DataSource for the
// pkgmanifest_files type.
func NewFilesDataSource() datasource.DataSource {
	return &FilesDataSource{}
}

// FilesDataSource implements the pkgmanifest_files data source.
type FilesDataSource struct {
	providerData *providerdata.ProviderData
}

// --------------------------------------------------------------------------
// EntryAttrTypes / StatsAttrTypes
// --------------------------------------------------------------------------

// EntryAttrTypes returns the attribute types of an entries map element.
func EntryAttrTypes() map[string]attr.Type {
	return map[string]attr.Type{
		"dir":          types.BoolType,
		"mtime":        types.Int64Type,
		"size":         types.Int64Type,
		"symlink":      types.StringType,
		"symlink_real": types.StringType,
	}
}

// StatsAttrTypes returns the attribute types of the stats object.
func StatsAttrTypes() map[string]attr.Type {
	return map[string]attr.Type{
		"ignore_rules_count": types.Int64Type,
		"total_files":        types.Int64Type,
		"ignored_files":      types.Int64Type,
		"total_size":         types.Int64Type,
		"total_bytes":        types.Int64Type,
	}
}

// --------------------------------------------------------------------------
// Metadata / Schema / Configure
// --------------------------------------------------------------------------

func (d *FilesDataSource) Metadata(_ context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_files"
}

func (d *FilesDataSource) Schema(_ context.Context, _ datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Walks a package directory and returns every file and directory that would be published, after applying `.npmignore`, `.gitignore` and optionally `.distignore` rules.",

		Attributes: map[string]schema.Attribute{
			// ---- Required ----
			"root_path": schema.StringAttribute{
				MarkdownDescription: "Path to the package directory to walk.",
				Required:            true,
			},

			// ---- Optional ----
			"respect_distignore": schema.BoolAttribute{
				MarkdownDescription: "Consult `.distignore` before `.npmignore` and `.gitignore`. Defaults to `false`.",
				Optional:            true,
			},
			"respect_nested_ignore": schema.BoolAttribute{
				MarkdownDescription: "Consult `.gitignore` in subdirectories. Defaults to `true`.",
				Optional:            true,
			},
			"include_dependencies": schema.BoolAttribute{
				MarkdownDescription: "Include `node_modules` instead of ignoring it. Defaults to `false`.",
				Optional:            true,
			},
			"select": schema.ListAttribute{
				MarkdownDescription: "Glob patterns (with `**` support) matched against entry paths without their leading `/`. Only matching entries are returned; stats still describe the whole walk.",
				Optional:            true,
				ElementType:         types.StringType,
			},

			// ---- Computed ----
			"id": schema.StringAttribute{
				MarkdownDescription: "Same as `fingerprint`.",
				Computed:            true,
			},
			"fingerprint": schema.StringAttribute{
				MarkdownDescription: "SHA-256 digest over the returned entries, formatted as `sha256:<hex>`.",
				Computed:            true,
			},
			"entry_count": schema.Int64Attribute{
				MarkdownDescription: "Number of returned entries.",
				Computed:            true,
			},
			"entries": schema.MapNestedAttribute{
				MarkdownDescription: "Returned entries keyed by path relative to `root_path`, with a leading `/`.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dir": schema.BoolAttribute{
							MarkdownDescription: "Whether the entry is a directory.",
							Computed:            true,
						},
						"mtime": schema.Int64Attribute{
							MarkdownDescription: "Modification time in milliseconds since the Unix epoch.",
							Computed:            true,
						},
						"size": schema.Int64Attribute{
							MarkdownDescription: "Size in bytes. Zero for directories and symlinks.",
							Computed:            true,
						},
						"symlink": schema.StringAttribute{
							MarkdownDescription: "Raw link target when the entry is a symlink.",
							Computed:            true,
						},
						"symlink_real": schema.StringAttribute{
							MarkdownDescription: "Fully resolved link target when the entry is a symlink.",
							Computed:            true,
						},
					},
				},
			},
			"stats": schema.SingleNestedAttribute{
				MarkdownDescription: "Counters collected during the walk.",
				Computed:            true,
				Attributes: map[string]schema.Attribute{
					"ignore_rules_count": schema.Int64Attribute{
						MarkdownDescription: "Number of ignore rules compiled.",
						Computed:            true,
					},
					"total_files": schema.Int64Attribute{
						MarkdownDescription: "Number of files and file symlinks seen.",
						Computed:            true,
					},
					"ignored_files": schema.Int64Attribute{
						MarkdownDescription: "Number of files excluded by ignore rules.",
						Computed:            true,
					},
					"total_size": schema.Int64Attribute{
						MarkdownDescription: "Sum of the modification times of recorded files.",
						Computed:            true,
					},
					"total_bytes": schema.Int64Attribute{
						MarkdownDescription: "Sum of the sizes of recorded files.",
						Computed:            true,
					},
				},
			},
			"manifest_json": schema.StringAttribute{
				MarkdownDescription: "The manifest document encoded as JSON.",
				Computed:            true,
			},
			"manifest_yaml": schema.StringAttribute{
				MarkdownDescription: "The manifest document encoded as YAML.",
				Computed:            true,
			},
		},
	}
}

func (d *FilesDataSource) Configure(_ context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	pd, ok := req.ProviderData.(*providerdata.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Data Source Configure Type",
			fmt.Sprintf("Expected *providerdata.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	d.providerData = pd
}

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

func (d *FilesDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var config FilesDataSourceModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &config)...)
	if resp.Diagnostics.HasError() {
		return
	}

	var patterns []string
	if !config.Select.IsNull() && !config.Select.IsUnknown() {
		resp.Diagnostics.Append(config.Select.ElementsAs(ctx, &patterns, false)...)
		if resp.Diagnostics.HasError() {
			return
		}
	}

	opts := walker.DefaultOptions()
	if d.providerData != nil {
		opts.Concurrency = d.providerData.MaxConcurrency
	}
	opts.RespectDistignore = boolOr(config.RespectDistignore, opts.RespectDistignore)
	opts.RespectNestedIgnore = boolOr(config.RespectNestedIgnore, opts.RespectNestedIgnore)
	opts.IncludeDependencies = boolOr(config.IncludeDependencies, opts.IncludeDependencies)

	rootPath := config.RootPath.ValueString()
	tflog.Info(ctx, "walking package", map[string]interface{}{
		"root_path": rootPath,
		"select":    len(patterns),
	})

	// A zero timestamp keeps the encoded manifest stable across reads.
	doc, err := manifest.Build(ctx, rootPath, opts, patterns, time.Time{})
	if err != nil {
		resp.Diagnostics.AddError("Package Walk Failed", fmt.Sprintf("Failed to walk %q: %s", rootPath, err))
		return
	}

	jsonBody, err := manifest.Marshal(doc)
	if err != nil {
		resp.Diagnostics.AddError("Manifest Encoding Failed", err.Error())
		return
	}
	yamlBody, err := manifest.MarshalYAML(doc)
	if err != nil {
		resp.Diagnostics.AddError("Manifest Encoding Failed", err.Error())
		return
	}

	entries, diags := EntriesValue(ctx, doc.Entries)
	resp.Diagnostics.Append(diags...)
	stats, diags := StatsValueOf(ctx, doc.Stats)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	config.ID = types.StringValue(doc.Fingerprint)
	config.Fingerprint = types.StringValue(doc.Fingerprint)
	config.EntryCount = types.Int64Value(int64(len(doc.Entries)))
	config.Entries = entries
	config.Stats = stats
	config.ManifestJSON = types.StringValue(string(jsonBody))
	config.ManifestYAML = types.StringValue(string(yamlBody))

	resp.Diagnostics.Append(resp.State.Set(ctx, &config)...)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// EntriesValue converts a walker manifest into the entries map value.
func EntriesValue(ctx context.Context, m walker.Manifest) (types.Map, diag.Diagnostics) {
	var diags diag.Diagnostics
	elemType := types.ObjectType{AttrTypes: EntryAttrTypes()}

	elems := make(map[string]attr.Value, len(m))
	for path, e := range m {
		obj, objDiags := types.ObjectValueFrom(ctx, EntryAttrTypes(), EntryValue{
			Dir:         types.BoolValue(e.Dir),
			Mtime:       types.Int64Value(e.Mtime),
			Size:        types.Int64Value(e.Size),
			Symlink:     types.StringValue(e.Symlink),
			SymlinkReal: types.StringValue(e.SymlinkReal),
		})
		diags.Append(objDiags...)
		if diags.HasError() {
			return types.MapNull(elemType), diags
		}
		elems[path] = obj
	}

	v, mapDiags := types.MapValue(elemType, elems)
	diags.Append(mapDiags...)
	return v, diags
}

// StatsValueOf converts walk statistics into the stats object value.
func StatsValueOf(ctx context.Context, s walker.Stats) (types.Object, diag.Diagnostics) {
	return types.ObjectValueFrom(ctx, StatsAttrTypes(), StatsValue{
		IgnoreRulesCount: types.Int64Value(s.IgnoreRulesCount),
		TotalFiles:       types.Int64Value(s.TotalFiles),
		IgnoredFiles:     types.Int64Value(s.IgnoredFiles),
		TotalSize:        types.Int64Value(s.TotalSize),
		TotalBytes:       types.Int64Value(s.TotalBytes),
	})
}

// boolOr returns v, or def when v is null or unknown.
func boolOr(v types.Bool, def bool) bool {
	if v.IsNull() || v.IsUnknown() {
		return def
	}
	return v.ValueBool()
}
