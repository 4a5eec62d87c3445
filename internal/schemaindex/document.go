package schemaindex

const documentType = "table_definition"

// Document is one indexed table definition.
type Document struct {
	ID        string
	TableName string
	RawText   string
	Tags      map[string]string
	Position  int
}

type Match struct {
	Document Document
	Score    float64
}

// Result holds matches ordered best first.
type Result struct {
	Matches []Match
}

func (r Result) Len() int {
	return len(r.Matches)
}

func (r Result) TableNames() []string {
	names := make([]string, 0, len(r.Matches))
	for _, match := range r.Matches {
		names = append(names, match.Document.TableName)
	}
	return names
}

func (d Document) clone() Document {
	tags := make(map[string]string, len(d.Tags))
	for key, value := range d.Tags {
		tags[key] = value
	}
	d.Tags = tags
	return d
}
