package openlineage

import (
	"github.com/leapstack-labs/leapgraph/pkg/core"
	"github.com/leapstack-labs/leapgraph/pkg/identifier"
)

// Transformation types of the column lineage facet.
const (
	TransformationDirect   = "DIRECT"
	TransformationIndirect = "INDIRECT"
)

// ColumnLineage translates a lineage document into a column lineage facet.
// Input fields are placed in namespace.
func ColumnLineage(doc *core.Document, namespace, producer string) *ColumnLineageDatasetFacet {
	facet := &ColumnLineageDatasetFacet{
		BaseFacet: base(producer, columnLineageSchemaURL),
		Fields:    make(map[string]ColumnLineageField, len(doc.Lineage)),
	}
	for _, name := range doc.Columns() {
		col := doc.Lineage[name]
		field := ColumnLineageField{
			InputFields:               make([]InputField, 0, len(col.Sources)),
			TransformationType:        col.TransformationType,
			TransformationDescription: col.TransformationLogic,
		}
		for _, src := range col.Sources {
			table, column := identifier.ParseLineageField(src.SourceIdentifier)
			kind := src.EffectiveType(col)
			field.InputFields = append(field.InputFields, InputField{
				Namespace: namespace,
				Name:      table,
				Field:     column,
				Transformations: []Transformation{{
					Type:        transformationClass(kind),
					Subtype:     kind,
					Description: src.EffectiveLogic(col),
				}},
			})
		}
		facet.Fields[name] = field
	}
	return facet
}

// ColumnLineageFacet translates doc using DefaultProducer.
func ColumnLineageFacet(doc *core.Document, namespace string) *ColumnLineageDatasetFacet {
	return ColumnLineage(doc, namespace, DefaultProducer)
}

func transformationClass(kind string) string {
	switch kind {
	case core.TransformDirect, core.TransformDirectInput:
		return TransformationDirect
	default:
		return TransformationIndirect
	}
}
