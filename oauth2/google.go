package oauth2

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	ra "github.com/panyam/recipeauth"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleProvider returns a Google provider asking for openid, email and
// profile. The consent screen always offers the account chooser.
func NewGoogleProvider(creds Credentials) *Provider {
	p := newProvider("google", creds, google.Endpoint,
		[]string{"openid", "email", "profile"},
		googleUserInfoURL, fetchGoogleProfile)
	p.authOptions = []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	return p
}

func fetchGoogleProfile(ctx context.Context, p *Provider, token *oauth2.Token) (*ra.OAuthProfile, error) {
	var info googleUserInfo
	if err := p.getJSON(ctx, p.UserInfoURL, token, &info); err != nil {
		return nil, err
	}
	return &ra.OAuthProfile{
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		DisplayName:   info.Name,
		AvatarURL:     info.Picture,
	}, nil
}
