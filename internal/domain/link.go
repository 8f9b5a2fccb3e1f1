package domain

// NegotiationState tracks a peer link through offer/answer.
type NegotiationState string

const (
	NegotiationNew            NegotiationState = "new"
	NegotiationOfferSent      NegotiationState = "offer-sent"
	NegotiationAnswerReceived NegotiationState = "answer-received"
	NegotiationStable         NegotiationState = "stable"
	NegotiationClosed         NegotiationState = "closed"
)
