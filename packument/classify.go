package packument

import (
	"fmt"
	"time"

	"github.com/a-h/npm-mirror/semver"
)

// classify implements spec §4.3's four-way classification:
//
//	presence of time.unpublished         => Unpublished
//	deletion flag                        => Deleted
//	absence of versions and of time      => MissingData
//	otherwise                            => Normal
//
// Per spec §9's Open Question, ambiguous documents are resolved
// conservatively: MissingData is preferred over Deleted whenever the
// evidence for deletion is not the explicit event-level flag.
func classify(doc rawDoc, eventDeleted bool) (*PackageOnly, error) {
	if doc.Deleted != eventDeleted {
		return nil, fmt.Errorf("document _deleted=%v disagrees with change event deleted=%v", doc.Deleted, eventDeleted)
	}
	if eventDeleted {
		return &PackageOnly{Kind: Deleted}, nil
	}
	if unpub, ok := doc.Time["unpublished"]; ok && unpub != "" {
		return classifyUnpublished(doc)
	}
	if len(doc.Versions) == 0 && len(doc.Time) == 0 {
		return &PackageOnly{Kind: MissingData}, nil
	}
	return classifyNormal(doc)
}

func classifyUnpublished(doc rawDoc) (*PackageOnly, error) {
	created, modified := packageTimes(doc)
	extra := make(map[string]time.Time)
	for k, v := range doc.Time {
		if k == "created" || k == "modified" || k == "unpublished" {
			continue
		}
		if _, err := semver.Parse(k); err != nil {
			continue // not a version-keyed time entry
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			extra[k] = t
		}
	}
	return &PackageOnly{
		Kind:              Unpublished,
		CreatedAt:         created,
		ModifiedAt:        modified,
		UnpublishedBlob:   map[string]any{"time": doc.Time["unpublished"]},
		ExtraVersionTimes: extra,
	}, nil
}

func classifyNormal(doc rawDoc) (*PackageOnly, error) {
	created, modified := packageTimes(doc)
	p := &PackageOnly{
		Kind:          Normal,
		CreatedAt:     created,
		ModifiedAt:    modified,
		OtherDistTags: make(map[string]string),
	}
	for tag, ver := range doc.DistTags {
		if tag == "latest" {
			if v, err := semver.Parse(ver); err == nil {
				p.Latest = &v
			}
			continue
		}
		p.OtherDistTags[tag] = ver
	}
	return p, nil
}

func packageTimes(doc rawDoc) (created, modified time.Time) {
	if v, ok := doc.Time["created"]; ok {
		created, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := doc.Time["modified"]; ok {
		modified, _ = time.Parse(time.RFC3339, v)
	}
	return created, modified
}
