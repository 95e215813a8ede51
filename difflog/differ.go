package difflog

import (
	"fmt"
	"sort"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/packument"
	"github.com/a-h/npm-mirror/semver"
)

// Entry is a pending diff-log entry produced by diffChange, not yet assigned
// an ordinal (that happens at insert time, per seq).
type Entry struct {
	PackageName string
	Kind        db.DiffKind
	Payload     []byte
}

var nullPayload = []byte("null")

// diffChange implements spec §4.4 step 3: computes the package-scope and
// version-scope diff between the prior hash state and a freshly normalized
// packument, returning the diff-log entries plus the updated hash state rows
// to persist. Emission order is package scope first, then versions ascending
// by semver — except on package deletion, where children must be deleted
// before the parent (spec §8 scenario 4), so version deletes are emitted
// first and DeletePackage last.
func diffChange(
	packageName string,
	priorPkg *db.HashStateRow,
	priorVersions []db.VersionHashStateRow,
	newPkg *packument.PackageOnly,
	newVersionsRaw map[string]packument.VersionOnly,
) ([]Entry, db.HashStateRow, []db.VersionHashStateRow, error) {
	pkgPayload, pkgHash, err := packument.PackagePayload(*newPkg)
	if err != nil {
		return nil, db.HashStateRow{}, nil, fmt.Errorf("difflog: failed to hash package %q: %w", packageName, err)
	}
	newHash := string(pkgHash)
	newDeleted := newPkg.Kind == packument.Deleted
	newPkgState := db.HashStateRow{PackageName: packageName, PackHash: &newHash, Deleted: newDeleted}

	// A MissingData document carries no version records, so it is no
	// evidence that any prior version was removed: version state is left
	// untouched and no DeleteVersion is emitted.
	diffPriorVersions := priorVersions
	if newPkg.Kind == packument.MissingData {
		diffPriorVersions = nil
	}
	versionEntries, versionStates, err := diffVersions(packageName, diffPriorVersions, newVersionsRaw)
	if err != nil {
		return nil, db.HashStateRow{}, nil, err
	}

	var entries []Entry
	switch {
	case priorPkg == nil:
		entries = append(entries, Entry{PackageName: packageName, Kind: db.KindCreatePackage, Payload: pkgPayload})
		entries = append(entries, versionEntries...)
	case newDeleted && !priorPkg.Deleted:
		entries = append(entries, versionEntries...)
		entries = append(entries, Entry{PackageName: packageName, Kind: db.KindDeletePackage, Payload: pkgPayload})
	case priorPkg.PackHash == nil || *priorPkg.PackHash != newHash:
		entries = append(entries, Entry{PackageName: packageName, Kind: db.KindUpdatePackage, Payload: pkgPayload})
		entries = append(entries, versionEntries...)
	default:
		entries = append(entries, versionEntries...)
	}

	return entries, newPkgState, versionStates, nil
}

type newVersion struct {
	sv   semver.Version
	data packument.VersionOnly
}

func diffVersions(packageName string, priorVersions []db.VersionHashStateRow, newVersionsRaw map[string]packument.VersionOnly) ([]Entry, []db.VersionHashStateRow, error) {
	priorByVer := make(map[string]db.VersionHashStateRow, len(priorVersions))
	for _, v := range priorVersions {
		priorByVer[v.Semver] = v
	}

	newByVer := make(map[string]newVersion, len(newVersionsRaw))
	for raw, v := range newVersionsRaw {
		sv, err := semver.Parse(raw)
		if err != nil {
			continue // already filtered by packument.Normalize; defensive only
		}
		newByVer[sv.String()] = newVersion{sv: sv, data: v}
	}

	allKeys := make(map[string]semver.Version, len(priorByVer)+len(newByVer))
	for k := range priorByVer {
		sv, err := semver.Parse(k)
		if err != nil {
			continue
		}
		allKeys[k] = sv
	}
	for k, e := range newByVer {
		allKeys[k] = e.sv
	}

	ordered := make([]string, 0, len(allKeys))
	for k := range allKeys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return allKeys[ordered[i]].Less(allKeys[ordered[j]]) })

	var entries []Entry
	var states []db.VersionHashStateRow
	for _, key := range ordered {
		prior, hasPrior := priorByVer[key]
		newer, hasNew := newByVer[key]

		switch {
		case hasNew && !hasPrior:
			payload, hash, err := packument.VersionPayload(newer.data)
			if err != nil {
				return nil, nil, fmt.Errorf("difflog: failed to hash %s@%s: %w", packageName, key, err)
			}
			entries = append(entries, Entry{PackageName: packageName, Kind: db.KindCreateVersion, Payload: payload})
			states = append(states, db.VersionHashStateRow{
				PackageName: packageName, Semver: key, PackHash: string(hash), Deleted: false, TarballURL: newer.data.Dist.TarballURL,
			})
		case hasPrior && !hasNew:
			if !prior.Deleted {
				entries = append(entries, Entry{PackageName: packageName, Kind: db.KindDeleteVersion, Payload: nullPayload})
				states = append(states, db.VersionHashStateRow{
					PackageName: packageName, Semver: key, PackHash: prior.PackHash, Deleted: true, TarballURL: prior.TarballURL,
				})
			}
		case hasPrior && hasNew:
			payload, hash, err := packument.VersionPayload(newer.data)
			if err != nil {
				return nil, nil, fmt.Errorf("difflog: failed to hash %s@%s: %w", packageName, key, err)
			}
			if string(hash) != prior.PackHash {
				entries = append(entries, Entry{PackageName: packageName, Kind: db.KindUpdateVersion, Payload: payload})
				states = append(states, db.VersionHashStateRow{
					PackageName: packageName, Semver: key, PackHash: string(hash), Deleted: false, TarballURL: newer.data.Dist.TarballURL,
				})
			}
		}
	}
	return entries, states, nil
}
