// Package roles maps entitlement roles returned by the identity provider to
// Discord role ids. The mapping is static, loaded once from configuration.
package roles

// Mapper resolves entitlement role names to platform role ids. Unknown
// entitlements contribute nothing; an unmapped role must never block
// verification.
type Mapper struct {
	table map[string][]string
}

// NewMapper builds a Mapper from an entitlement -> role-id table.
func NewMapper(table map[string][]string) *Mapper {
	if table == nil {
		table = map[string][]string{}
	}
	return &Mapper{table: table}
}

// Map returns the deduplicated set of Discord role ids granted by the given
// entitlement roles. Order follows first appearance.
func (m *Mapper) Map(entitlements []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ent := range entitlements {
		for _, id := range m.table[ent] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
