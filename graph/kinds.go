package graph

import "fmt"

// NodeKind discriminates the node weight variants.
type NodeKind uint8

const (
	NodeKindContent NodeKind = iota + 1
	NodeKindCategory
	NodeKindOrdering
	NodeKindManagementPrototype
)

var nodeKindNames = map[NodeKind]string{
	NodeKindContent:             "content",
	NodeKindCategory:            "category",
	NodeKindOrdering:            "ordering",
	NodeKindManagementPrototype: "management_prototype",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("node_kind(%d)", uint8(k))
}

// ContentKind describes what domain object a content node's payload is.
type ContentKind uint8

const (
	ContentKindRoot ContentKind = iota + 1
	ContentKindSchema
	ContentKindSchemaVariant
	ContentKindComponent
	ContentKindProp
	ContentKindFunc
	ContentKindFuncArgument
	ContentKindAttributeValue
	ContentKindAttributePrototype
	ContentKindSocket
	ContentKindActionPrototype
	ContentKindSecret
	ContentKindModule
	ContentKindView
	ContentKindGeometry
)

var contentKindNames = map[ContentKind]string{
	ContentKindRoot:               "root",
	ContentKindSchema:             "schema",
	ContentKindSchemaVariant:      "schema_variant",
	ContentKindComponent:          "component",
	ContentKindProp:               "prop",
	ContentKindFunc:               "func",
	ContentKindFuncArgument:       "func_argument",
	ContentKindAttributeValue:     "attribute_value",
	ContentKindAttributePrototype: "attribute_prototype",
	ContentKindSocket:             "socket",
	ContentKindActionPrototype:    "action_prototype",
	ContentKindSecret:             "secret",
	ContentKindModule:             "module",
	ContentKindView:               "view",
	ContentKindGeometry:           "geometry",
}

func (k ContentKind) String() string {
	if s, ok := contentKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("content_kind(%d)", uint8(k))
}

func (k ContentKind) MarshalText() ([]byte, error) {
	if _, ok := contentKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown content kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ContentKind) UnmarshalText(b []byte) error {
	for kind, name := range contentKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown content kind %q", b)
}

// CategoryKind names a singleton category node.
type CategoryKind uint8

const (
	CategoryKindComponent CategoryKind = iota + 1
	CategoryKindSchema
	CategoryKindFunc
	CategoryKindModule
	CategoryKindSecret
	CategoryKindAction
	CategoryKindView
	CategoryKindDiagramObject
)

var categoryKindNames = map[CategoryKind]string{
	CategoryKindComponent:     "component",
	CategoryKindSchema:        "schema",
	CategoryKindFunc:          "func",
	CategoryKindModule:        "module",
	CategoryKindSecret:        "secret",
	CategoryKindAction:        "action",
	CategoryKindView:          "view",
	CategoryKindDiagramObject: "diagram_object",
}

// AllCategoryKinds lists every category kind in declaration order.
func AllCategoryKinds() []CategoryKind {
	return []CategoryKind{
		CategoryKindComponent,
		CategoryKindSchema,
		CategoryKindFunc,
		CategoryKindModule,
		CategoryKindSecret,
		CategoryKindAction,
		CategoryKindView,
		CategoryKindDiagramObject,
	}
}

func (k CategoryKind) String() string {
	if s, ok := categoryKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("category_kind(%d)", uint8(k))
}

func (k CategoryKind) MarshalText() ([]byte, error) {
	if _, ok := categoryKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown category kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *CategoryKind) UnmarshalText(b []byte) error {
	for kind, name := range categoryKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown category kind %q", b)
}

// EdgeKind is the closed set of relationships between nodes.
type EdgeKind uint8

const (
	EdgeKindUse EdgeKind = iota + 1
	EdgeKindProvider
	EdgeKindRoot
	EdgeKindSocket
	EdgeKindFrameContains
	EdgeKindPrototypeArgument
	EdgeKindPrototype
	EdgeKindContain
	EdgeKindOrdering
	EdgeKindAction
	EdgeKindManages
	EdgeKindRepresents
	EdgeKindProp
)

var edgeKindNames = map[EdgeKind]string{
	EdgeKindUse:               "use",
	EdgeKindProvider:          "provider",
	EdgeKindRoot:              "root",
	EdgeKindSocket:            "socket",
	EdgeKindFrameContains:     "frame_contains",
	EdgeKindPrototypeArgument: "prototype_argument",
	EdgeKindPrototype:         "prototype",
	EdgeKindContain:           "contain",
	EdgeKindOrdering:          "ordering",
	EdgeKindAction:            "action",
	EdgeKindManages:           "manages",
	EdgeKindRepresents:        "represents",
	EdgeKindProp:              "prop",
}

func (k EdgeKind) String() string {
	if s, ok := edgeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("edge_kind(%d)", uint8(k))
}

func (k EdgeKind) MarshalText() ([]byte, error) {
	if _, ok := edgeKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown edge kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *EdgeKind) UnmarshalText(b []byte) error {
	for kind, name := range edgeKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown edge kind %q", b)
}

// ParseEdgeKind parses the textual form of an edge kind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	var k EdgeKind
	err := k.UnmarshalText([]byte(s))
	return k, err
}

// IsOrdered reports whether edges of this kind take part in container
// ordering.
func (k EdgeKind) IsOrdered() bool {
	return k == EdgeKindContain
}
