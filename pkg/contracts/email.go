// Package contracts holds the message types shared by producers and functions.
package contracts

// EmailMessage is the payload carried on the emails queue
type EmailMessage struct {
	To   string `json:"To"`
	Body string `json:"Body"`
}
