package withdraw

import "github.com/marwen-abid/offramp-go"

// NextSteps returns operator guidance for an anchor status.
func NextSteps(status offramp.TransactionStatus) []string {
	switch status {
	case offramp.StatusIncomplete:
		return []string{"Wait for the user to complete KYC in the anchor's interactive flow"}
	case offramp.StatusPendingUserTransferStart:
		return []string{
			"User completed KYC with the anchor",
			"The anchor is ready to receive funds",
			"Send the funds to the specified account with the specified memo",
			"Close the interactive window",
		}
	case offramp.StatusPendingUserTransferComplete:
		return []string{"Funds sent, waiting for the anchor's confirmation"}
	case offramp.StatusPendingAnchor, offramp.StatusPendingExternal, offramp.StatusPendingStellar:
		return []string{"The anchor is processing the withdrawal"}
	case offramp.StatusCompleted:
		return []string{"Transaction completed successfully"}
	case offramp.StatusError:
		return []string{"Error in transaction, check logs"}
	case offramp.StatusExpired, offramp.StatusRefunded, offramp.StatusNoMarket, offramp.StatusTooSmall, offramp.StatusTooLarge:
		return []string{"The anchor stopped the withdrawal (" + string(status) + "); start a new one"}
	default:
		return []string{"Unknown status, monitor transaction"}
	}
}
