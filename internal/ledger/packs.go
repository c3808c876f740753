package ledger

// Credit packs sold through checkout, largest first
var creditPacks = []struct {
	MinCents int64
	Credits  int64
}{
	{2000, 2500},
	{1000, 1000},
	{500, 400},
}

const baseCredits = 100

// CreditsForPurchase maps a paid amount in cents to the credits granted
func CreditsForPurchase(amountCents int64) int64 {
	for _, p := range creditPacks {
		if amountCents >= p.MinCents {
			return p.Credits
		}
	}
	return baseCredits
}
