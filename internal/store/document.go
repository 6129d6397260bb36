package store

const DefaultFormat = "es.4"

// Document is the current record under (workspace, author, path).
// Timestamp is in microseconds.
type Document struct {
	Format    string `json:"format"`
	Workspace string `json:"workspace"`
	Author    string `json:"author"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// DocToSet is what an identity asks the store to write.
type DocToSet struct {
	Path    string
	Content string
	Format  string
}

// DocMap mirrors the persisted layout of one workspace: path -> author -> Document.
type DocMap map[string]map[string]Document

func (dm DocMap) Len() int {
	n := 0
	for _, byAuthor := range dm {
		n += len(byAuthor)
	}
	return n
}

func (dm DocMap) put(doc Document) {
	byAuthor, ok := dm[doc.Path]
	if !ok {
		byAuthor = make(map[string]Document)
		dm[doc.Path] = byAuthor
	}
	byAuthor[doc.Author] = doc
}

func (d Document) IsEmpty() bool {
	return d.Content == ""
}
