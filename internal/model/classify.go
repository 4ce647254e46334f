package model

// MetadataIndexID is the fixed id of the per-database story metadata index.
const MetadataIndexID = "story-metadata-index"

// Document types known to the sync layer.
const (
	TypeStorySnapshot         = "story-snapshot"
	TypeCodex                 = "codex"
	TypeCustomBackground      = "custom-background"
	TypeVideo                 = "video"
	TypeImageVideoAssociation = "image-video-association"
)

// Kind is the coarse classification of a stored document.
type Kind int

const (
	// KindUntyped is a document without a type that is not a story either.
	KindUntyped Kind = iota
	// KindStory is an untyped document with a chapters array.
	KindStory
	// KindIndex is the story metadata index document.
	KindIndex
	// KindTyped is any document carrying a type field.
	KindTyped
)

func (k Kind) String() string {
	switch k {
	case KindStory:
		return "story"
	case KindIndex:
		return "index"
	case KindTyped:
		return "typed"
	default:
		return "untyped"
	}
}

// Class is the result of ClassifyDocument. Type is set for KindTyped only.
type Class struct {
	Kind Kind
	Type string
}

// Is reports whether the class is a typed document of the given type.
func (c Class) Is(docType string) bool {
	return c.Kind == KindTyped && c.Type == docType
}

// Untyped reports whether the document has no type field, stories included.
func (c Class) Untyped() bool {
	return c.Kind == KindStory || c.Kind == KindUntyped
}

// ClassifyDocument is the single place that decides what a document is.
// Legacy story documents carry no discriminator: a story is any document
// without a type whose chapters field is an array.
func ClassifyDocument(doc *Document) Class {
	if doc == nil {
		return Class{Kind: KindUntyped}
	}

	if doc.ID == MetadataIndexID {
		return Class{Kind: KindIndex}
	}

	if t := doc.Type(); t != "" {
		return Class{Kind: KindTyped, Type: t}
	}

	if doc.Fields != nil {
		if _, ok := doc.Fields["chapters"].([]any); ok {
			return Class{Kind: KindStory}
		}
	}

	return Class{Kind: KindUntyped}
}

// IsStory is shorthand for ClassifyDocument(doc).Kind == KindStory.
func IsStory(doc *Document) bool {
	return ClassifyDocument(doc).Kind == KindStory
}
