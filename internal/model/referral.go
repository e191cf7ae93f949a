package model

type RewardTable struct {
	MoneyPerUnit int64
	GemsPerUnit  int64
}

type Reward struct {
	Money int64
	Gems  int64
}

func (t RewardTable) For(units int) Reward {
	if units <= 0 {
		return Reward{}
	}
	return Reward{
		Money: int64(units) * t.MoneyPerUnit,
		Gems:  int64(units) * t.GemsPerUnit,
	}
}

type ReferralStats struct {
	TelegramID      int64
	FriendsInvited  int
	UnclaimedCount  int
	UnclaimedReward Reward
}

type ClaimResult struct {
	TelegramID   int64
	ClaimedCount int
	Rewards      Reward
}

// LinkOutcome reports why a referral link did or did not happen. Only
// OutcomeLinked mutates state. The zero value is returned alongside errors.
type LinkOutcome int

const (
	OutcomeLinked LinkOutcome = iota + 1
	OutcomeNoReferrer
	OutcomeSelfReferral
	OutcomeAlreadyReferred
	OutcomeReferrerNotFound
	OutcomeUserNotFound
	OutcomeReturningUser
)

func (o LinkOutcome) String() string {
	switch o {
	case OutcomeLinked:
		return "linked"
	case OutcomeNoReferrer:
		return "no_referrer"
	case OutcomeSelfReferral:
		return "self_referral"
	case OutcomeAlreadyReferred:
		return "already_referred"
	case OutcomeReferrerNotFound:
		return "referrer_not_found"
	case OutcomeUserNotFound:
		return "user_not_found"
	case OutcomeReturningUser:
		return "returning_user"
	default:
		return "unknown"
	}
}
