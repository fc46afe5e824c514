package inventory

// Reconcile merges the two scans into one entity list keyed by name.
// Local entries are inserted first in scan order, then remote entries
// either fill in the remote side of an existing entity or append a new
// device-only one. The result is a fresh slice every call; previous
// snapshots are never mutated.
func Reconcile(local, remote []Item) []Entity {
	index := make(map[string]int, len(local))
	entities := make([]Entity, 0, len(local)+len(remote))

	for _, item := range local {
		if i, ok := index[item.Name]; ok {
			// Duplicate basename in one directory: last path wins.
			entities[i].LocalPath = item.Path
			entities[i].LocalSize = item.Size
			continue
		}
		index[item.Name] = len(entities)
		entities = append(entities, Entity{
			Name:      item.Name,
			LocalPath: item.Path,
			LocalSize: item.Size,
		})
	}

	for _, item := range remote {
		if i, ok := index[item.Name]; ok {
			entities[i].RemotePath = item.Path
			entities[i].RemoteSize = item.Size
			continue
		}
		index[item.Name] = len(entities)
		entities = append(entities, Entity{
			Name:       item.Name,
			RemotePath: item.Path,
			RemoteSize: item.Size,
		})
	}

	return entities
}
