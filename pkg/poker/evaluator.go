package poker

import (
	evalpoker "github.com/chehsunliu/poker"
)

// HandRank represents the class of a poker hand.
type HandRank int

const (
	HighCard HandRank = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

// HandStrength is a complete evaluation of one player's best five-card hand.
// RankValue is a total order over all hands (lower is better, as reported by
// the evaluation library); equal RankValues are exact ties.
type HandStrength struct {
	ClientID    int32
	Rank        HandRank
	RankValue   int32
	Description string
}

func rankClassToHandRank(class int32) HandRank {
	switch class {
	case 1:
		return StraightFlush
	case 2:
		return FourOfAKind
	case 3:
		return FullHouse
	case 4:
		return Flush
	case 5:
		return Straight
	case 6:
		return ThreeOfAKind
	case 7:
		return TwoPair
	case 8:
		return Pair
	default:
		return HighCard
	}
}

// EvaluateHand ranks the best five-card hand from two hole cards plus up to
// five community cards. Hand comparison internals are delegated entirely to
// the evaluation library.
func EvaluateHand(hole []Card, community []Card) HandStrength {
	all := make([]evalpoker.Card, 0, len(hole)+len(community))
	for _, c := range hole {
		all = append(all, evalpoker.NewCard(c.String()))
	}
	for _, c := range community {
		all = append(all, evalpoker.NewCard(c.String()))
	}

	rank := evalpoker.Evaluate(all)
	return HandStrength{
		Rank:        rankClassToHandRank(evalpoker.RankClass(rank)),
		RankValue:   rank,
		Description: evalpoker.RankString(rank),
	}
}

// CompareHands returns 1 if a beats b, -1 if b beats a and 0 on an exact tie.
func CompareHands(a, b HandStrength) int {
	// lower rank values are better
	switch {
	case a.RankValue < b.RankValue:
		return 1
	case a.RankValue > b.RankValue:
		return -1
	default:
		return 0
	}
}

// WinList partitions hand strengths into tiers of equal strength, best tier
// first. Ties share a tier.
func WinList(strengths []HandStrength) [][]HandStrength {
	sorted := make([]HandStrength, len(strengths))
	copy(sorted, strengths)

	// small n; insertion sort keeps it dependency-free and stable
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && CompareHands(sorted[j], sorted[j-1]) > 0; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var tiers [][]HandStrength
	for _, hs := range sorted {
		n := len(tiers)
		if n > 0 && CompareHands(hs, tiers[n-1][0]) == 0 {
			tiers[n-1] = append(tiers[n-1], hs)
		} else {
			tiers = append(tiers, []HandStrength{hs})
		}
	}
	return tiers
}
