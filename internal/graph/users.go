package graph

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// User is the subset of the Graph user resource this client reads and writes.
// Optional attributes are pointers so a JSON null survives decoding.
type User struct {
	ID                string           `json:"id,omitempty"`
	UserPrincipalName string           `json:"userPrincipalName,omitempty"`
	DisplayName       string           `json:"displayName,omitempty"`
	MailNickname      string           `json:"mailNickname,omitempty"`
	Mail              *string          `json:"mail,omitempty"`
	JobTitle          *string          `json:"jobTitle,omitempty"`
	Department        *string          `json:"department,omitempty"`
	AccountEnabled    *bool            `json:"accountEnabled,omitempty"`
	PasswordProfile   *PasswordProfile `json:"passwordProfile,omitempty"`
}

type PasswordProfile struct {
	Password                      string `json:"password"`
	ForceChangePasswordNextSignIn bool   `json:"forceChangePasswordNextSignIn"`
}

// UserUpdate is a PATCH body. Nil fields are omitted and left unchanged.
type UserUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	JobTitle    *string `json:"jobTitle,omitempty"`
	Department  *string `json:"department,omitempty"`
}

type userList struct {
	Value []User `json:"value"`
}

var (
	readSelect = strings.Join([]string{
		"id", "userPrincipalName", "displayName", "mail", "jobTitle", "department", "accountEnabled",
	}, ",")
	listSelect = "id,userPrincipalName,displayName,mail"
)

func userPath(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("user id is required")
	}
	return "/users/" + url.PathEscape(id), nil
}

func (c *Client) CreateUser(ctx context.Context, u User) (*User, error) {
	var created User
	if err := c.do(ctx, http.MethodPost, "/users", nil, u, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetUser accepts an object id or a userPrincipalName.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	path, err := userPath(id)
	if err != nil {
		return nil, err
	}
	var u User
	q := url.Values{"$select": {readSelect}}
	if err := c.do(ctx, http.MethodGet, path, q, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, update UserUpdate) error {
	path, err := userPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, path, nil, update, nil)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	path, err := userPath(id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// ListUsers returns the first page of users. top is passed through to Graph,
// which rejects values outside 1..999.
func (c *Client) ListUsers(ctx context.Context, top int) ([]User, error) {
	q := url.Values{
		"$top":    {strconv.Itoa(top)},
		"$select": {listSelect},
	}
	var list userList
	if err := c.do(ctx, http.MethodGet, "/users", q, nil, &list); err != nil {
		return nil, err
	}
	if list.Value == nil {
		list.Value = []User{}
	}
	return list.Value, nil
}
