// Package commands routes slash commands and autocomplete requests to the
// trigger service and renders their replies.
//
// Every command acts in the caller's (guild, user, channel) scope. Replies
// never mention roles except for message previews, which show the message
// exactly as it would be sent.
package commands
