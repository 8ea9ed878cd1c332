// Package moq implements a packet.Payloader that frames encoded chunks as
// MoQ Transport subgroup-stream objects (draft-ietf-moq-transport-15) with
// LOC header extensions (draft-ietf-moq-loc-01).
package moq
