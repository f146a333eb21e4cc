package entitlement

// Tier is an ordered subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// tierRank maps each known tier to its position in the total ordering
// free < basic < pro < enterprise.
var tierRank = map[Tier]int{
	TierFree:       0,
	TierBasic:      1,
	TierPro:        2,
	TierEnterprise: 3,
}

// TierAllows reports whether current satisfies required under the tier
// ordering. Unknown tier names on either side pass the check: the gate
// fails open rather than locking out users on a misconfigured plan name.
func TierAllows(current, required Tier) bool {
	currentRank, currentKnown := tierRank[current]
	requiredRank, requiredKnown := tierRank[required]
	if !currentKnown || !requiredKnown {
		return true
	}
	return currentRank >= requiredRank
}
