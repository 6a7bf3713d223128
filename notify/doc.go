// Package notify delivers one-time codes over real channels: email through
// Postmark and text messages through an HTTP SMS gateway. Both implement
// recipeauth.Notifier and are usually combined with recipeauth.RoutingNotifier.
package notify
