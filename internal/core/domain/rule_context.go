package domain

// RuleContext gives rule patchers read-only access to the sibling documents
// submitted in the same validation call. Only successfully parsed documents
// are present.
type RuleContext struct {
	docs map[string]FeedDocument
}

func NewRuleContext(docs ...FeedDocument) RuleContext {
	m := make(map[string]FeedDocument, len(docs))
	for _, doc := range docs {
		if !doc.Parsed() {
			continue
		}
		m[doc.Name] = doc
	}
	return RuleContext{docs: m}
}

func (rc RuleContext) Lookup(feed string) (FeedDocument, bool) {
	doc, ok := rc.docs[feed]
	return doc, ok
}

func (rc RuleContext) Has(feed string) bool {
	_, ok := rc.docs[feed]
	return ok
}

func (rc RuleContext) Len() int {
	return len(rc.docs)
}
