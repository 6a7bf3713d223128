package oauth2

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	ra "github.com/panyam/recipeauth"
)

const (
	githubUserURL = "https://api.github.com/user"
)

type githubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGithubProvider returns a GitHub provider. The address is checked against
// the /user/emails endpoint, which also resolves users who keep it private.
func NewGithubProvider(creds Credentials) *Provider {
	return newProvider("github", creds, github.Endpoint,
		[]string{"read:user", "user:email"},
		githubUserURL, fetchGithubProfile)
}

func fetchGithubProfile(ctx context.Context, p *Provider, token *oauth2.Token) (*ra.OAuthProfile, error) {
	var user githubUser
	if err := p.getJSON(ctx, p.UserInfoURL, token, &user); err != nil {
		return nil, err
	}

	// the public profile email carries no verification flag
	var emails []githubEmail
	if err := p.getJSON(ctx, strings.TrimSuffix(p.UserInfoURL, "/")+"/emails", token, &emails); err != nil {
		return nil, err
	}
	email, verified := user.Email, false
	if isVerified(emails, user.Email) {
		verified = true
	} else if primary := primaryEmail(emails); primary != "" {
		email, verified = primary, true
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &ra.OAuthProfile{Email: email, EmailVerified: verified, DisplayName: name, AvatarURL: user.AvatarURL}, nil
}

func isVerified(emails []githubEmail, email string) bool {
	if email == "" {
		return false
	}
	for _, e := range emails {
		if e.Verified && strings.EqualFold(e.Email, email) {
			return true
		}
	}
	return false
}

// primaryEmail picks the primary verified address, else any verified one.
func primaryEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}
