package backend

import (
	"fmt"
	"strings"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/ddl"
	"github.com/notorm-tech/un0/core/fltr"
	"github.com/notorm-tech/un0/core/schema"
)

// Configuration holds a complete backend configuration: the mapped
// resources of the application schema.
type Configuration struct {
	Resources []ResourceConfiguration `json:"resources"`
}

// ResourceConfiguration describes one mapped table and everything that
// hangs off it: columns, references, the row-level-security policy
// class, the audit mode and the graph mirror.
type ResourceConfiguration struct {
	Resource    string                   `json:"resource"`
	Description string                   `json:"description,omitempty"`
	Properties  []PropertyConfiguration  `json:"properties"`
	References  []ReferenceConfiguration `json:"references,omitempty"`
	// RLSPolicy defaults to tenant
	RLSPolicy ddl.PolicyClass `json:"rls_policy,omitempty"`
	// Audit defaults to record_version
	Audit ddl.AuditMode `json:"audit,omitempty"`
	// Vertex disables the graph mirror when set to false; default true
	Vertex *bool `json:"vertex,omitempty"`
	// WithAttachment adds upload/download routes backed by the
	// document store
	WithAttachment bool `json:"with_attachment,omitempty"`
}

// PropertyConfiguration describes one mapped column.
type PropertyConfiguration struct {
	Name        string         `json:"name"`
	Type        core.ValueType `json:"value_type"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Unique      bool           `json:"unique,omitempty"`
	Searchable  bool           `json:"searchable,omitempty"`
	EnumValues  []string       `json:"enum_values,omitempty"`
	Default     string         `json:"default,omitempty"`
}

// ReferenceConfiguration describes a foreign key to another mapped
// resource. The column is named {resource}_id unless Name overrides it.
// Edge names the graph edge label mirroring the reference.
type ReferenceConfiguration struct {
	Resource string `json:"resource"`
	Name     string `json:"name,omitempty"`
	Edge     string `json:"edge,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Column returns the foreign key column name of the reference.
func (r ReferenceConfiguration) Column() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Resource + "_id"
}

// EdgeLabel returns the graph edge label of the reference.
func (r ReferenceConfiguration) EdgeLabel() string {
	if r.Edge != "" {
		return r.Edge
	}
	return "HAS_" + strings.ToUpper(r.Resource)
}

// HasVertex reports whether the resource is mirrored into the graph.
func (rc ResourceConfiguration) HasVertex() bool {
	return rc.Vertex == nil || *rc.Vertex
}

// policy returns the policy class with the default applied
func (rc ResourceConfiguration) policy() ddl.PolicyClass {
	if rc.RLSPolicy == "" {
		return ddl.PolicyTenant
	}
	return rc.RLSPolicy
}

// auditMode returns the audit mode with the default applied
func (rc ResourceConfiguration) auditMode() ddl.AuditMode {
	if rc.Audit == "" {
		return ddl.AuditRecordVersion
	}
	return rc.Audit
}

// reserved column names no property or reference may use
var reservedColumns = map[string]bool{
	"id": true, "is_active": true, "is_deleted": true,
	"created_at": true, "owner_id": true,
	"modified_at": true, "modified_by_id": true,
	"deleted_at": true, "deleted_by_id": true,
	"tenant_id": true,
}

// Validate checks the configuration for consistency.
func (c Configuration) Validate() error {
	resources := map[string]bool{}
	for _, rc := range c.Resources {
		if rc.Resource == "" {
			return fmt.Errorf("resource without name")
		}
		if resources[rc.Resource] {
			return fmt.Errorf("duplicate resource %s", rc.Resource)
		}
		resources[rc.Resource] = true
	}

	for _, rc := range c.Resources {
		if !rc.policy().Valid() {
			return fmt.Errorf("%s: %s is not a valid rls policy", rc.Resource, rc.RLSPolicy)
		}
		switch rc.auditMode() {
		case ddl.AuditRecordVersion, ddl.AuditHistory, ddl.AuditNone:
		default:
			return fmt.Errorf("%s: %s is not a valid audit mode", rc.Resource, rc.Audit)
		}

		columns := map[string]bool{}
		for _, p := range rc.Properties {
			if p.Name == "" {
				return fmt.Errorf("%s: property without name", rc.Resource)
			}
			if reservedColumns[p.Name] {
				return fmt.Errorf("%s: %s is a reserved column", rc.Resource, p.Name)
			}
			if columns[p.Name] {
				return fmt.Errorf("%s: duplicate column %s", rc.Resource, p.Name)
			}
			columns[p.Name] = true
			if p.Type == core.ValueEnum && len(p.EnumValues) == 0 {
				return fmt.Errorf("%s: enum property %s has no values", rc.Resource, p.Name)
			}
			if p.Type == core.ValueRelated {
				return fmt.Errorf("%s: %s must be declared as reference, not property", rc.Resource, p.Name)
			}
		}
		for _, ref := range rc.References {
			if !resources[ref.Resource] {
				return fmt.Errorf("%s: reference to unknown resource %s", rc.Resource, ref.Resource)
			}
			column := ref.Column()
			if reservedColumns[column] {
				return fmt.Errorf("%s: %s is a reserved column", rc.Resource, column)
			}
			if columns[column] {
				return fmt.Errorf("%s: duplicate column %s", rc.Resource, column)
			}
			columns[column] = true
		}
	}
	return nil
}

// schemaProperties converts the resource configuration into schema
// generator properties, references included.
func (rc ResourceConfiguration) schemaProperties() []schema.Property {
	var properties []schema.Property
	for _, p := range rc.Properties {
		properties = append(properties, schema.Property{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			EnumValues:  p.EnumValues,
			Searchable:  p.Searchable,
		})
	}
	for _, ref := range rc.References {
		properties = append(properties, schema.Property{
			Name:     ref.Column(),
			Type:     core.ValueRelated,
			Required: ref.Required,
			Related:  ref.Resource,
		})
	}
	return properties
}

// filterFields returns the searchable properties as filter fields.
func (rc ResourceConfiguration) filterFields() []fltr.Field {
	var fields []fltr.Field
	for _, p := range rc.Properties {
		if !p.Searchable || len(p.Type.Lookups()) == 0 {
			continue
		}
		fields = append(fields, fltr.Field{
			Accessor: p.Name,
			Label:    core.CapitalWord(p.Name),
			Type:     p.Type,
		})
	}
	for _, ref := range rc.References {
		fields = append(fields, fltr.Field{
			Accessor: ref.Column(),
			Label:    core.CapitalWord(ref.Column()),
			Type:     core.ValueRelated,
		})
	}
	return fields
}
