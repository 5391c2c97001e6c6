package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/graph"
)

const (
	permissionReadWrite = "User.ReadWrite.All"
	permissionRead      = "User.Read.All"

	defaultListTop = 10
)

// Directory is the user store behind the tools. *graph.Client satisfies it.
type Directory interface {
	CreateUser(ctx context.Context, u graph.User) (*graph.User, error)
	GetUser(ctx context.Context, id string) (*graph.User, error)
	UpdateUser(ctx context.Context, id string, update graph.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, top int) ([]graph.User, error)
}

func userTools(dir Directory) []tool {
	return []tool{
		{
			definition: toolDefinition{
				Name:        "create_user",
				Description: "Create a new user in Azure AD",
				InputSchema: objectSchema(map[string]interface{}{
					"userPrincipalName": stringProp("User's email address"),
					"displayName":       stringProp("User's display name"),
					"mailNickname":      stringProp("Mail alias"),
					"password":          stringProp("Initial password"),
				}, "userPrincipalName", "displayName", "mailNickname", "password"),
			},
			handle:     createUser(dir),
			permission: permissionReadWrite,
		},
		{
			definition: toolDefinition{
				Name:        "read_user",
				Description: "Get user information from Azure AD",
				InputSchema: objectSchema(map[string]interface{}{
					"userId": stringProp("User ID or userPrincipalName"),
				}, "userId"),
			},
			handle:     readUser(dir),
			permission: permissionRead,
		},
		{
			definition: toolDefinition{
				Name:        "update_user",
				Description: "Update an existing user in Azure AD",
				InputSchema: objectSchema(map[string]interface{}{
					"userId":      stringProp("User ID or userPrincipalName"),
					"displayName": stringProp("New display name"),
					"jobTitle":    stringProp("Job title"),
					"department":  stringProp("Department"),
				}, "userId"),
			},
			handle:     updateUser(dir),
			permission: permissionReadWrite,
		},
		{
			definition: toolDefinition{
				Name:        "delete_user",
				Description: "Delete a user from Azure AD",
				InputSchema: objectSchema(map[string]interface{}{
					"userId": stringProp("User ID or userPrincipalName"),
				}, "userId"),
			},
			handle:     deleteUser(dir),
			permission: permissionReadWrite,
		},
		{
			definition: toolDefinition{
				Name:        "list_users",
				Description: "List users in Azure AD",
				InputSchema: objectSchema(map[string]interface{}{
					"top": map[string]interface{}{
						"type":        "integer",
						"description": "Number of users to return (default 10, max 999)",
						"default":     defaultListTop,
					},
				}),
			},
			handle:     listUsers(dir),
			permission: permissionRead,
		},
	}
}

func indent(v interface{}) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func createUser(dir Directory) toolHandler {
	return func(ctx context.Context, args arguments) (string, error) {
		upn, err := args.requiredString("userPrincipalName")
		if err != nil {
			return "", err
		}
		displayName, err := args.requiredString("displayName")
		if err != nil {
			return "", err
		}
		nickname, err := args.requiredString("mailNickname")
		if err != nil {
			return "", err
		}
		password, err := args.requiredString("password")
		if err != nil {
			return "", err
		}

		enabled := true
		created, err := dir.CreateUser(ctx, graph.User{
			UserPrincipalName: upn,
			DisplayName:       displayName,
			MailNickname:      nickname,
			AccountEnabled:    &enabled,
			PasswordProfile: &graph.PasswordProfile{
				Password:                      password,
				ForceChangePasswordNextSignIn: true,
			},
		})
		if err != nil {
			return "", err
		}

		summary := map[string]interface{}{
			"id":                created.ID,
			"userPrincipalName": created.UserPrincipalName,
			"displayName":       created.DisplayName,
		}
		return fmt.Sprintf("User created successfully: %s\n%s", created.ID, indent(summary)), nil
	}
}

func readUser(dir Directory) toolHandler {
	return func(ctx context.Context, args arguments) (string, error) {
		id, err := args.requiredString("userId")
		if err != nil {
			return "", err
		}
		u, err := dir.GetUser(ctx, id)
		if err != nil {
			return "", err
		}
		return indent(map[string]interface{}{
			"id":                u.ID,
			"userPrincipalName": u.UserPrincipalName,
			"displayName":       u.DisplayName,
			"mail":              u.Mail,
			"jobTitle":          u.JobTitle,
			"department":        u.Department,
			"accountEnabled":    u.AccountEnabled,
		}), nil
	}
}

func updateUser(dir Directory) toolHandler {
	return func(ctx context.Context, args arguments) (string, error) {
		id, err := args.requiredString("userId")
		if err != nil {
			return "", err
		}

		var update graph.UserUpdate
		if v, ok := args.optionalString("displayName"); ok {
			update.DisplayName = &v
		}
		if v, ok := args.optionalString("jobTitle"); ok {
			update.JobTitle = &v
		}
		if v, ok := args.optionalString("department"); ok {
			update.Department = &v
		}

		if err := dir.UpdateUser(ctx, id, update); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %s updated successfully", id), nil
	}
}

func deleteUser(dir Directory) toolHandler {
	return func(ctx context.Context, args arguments) (string, error) {
		id, err := args.requiredString("userId")
		if err != nil {
			return "", err
		}
		if err := dir.DeleteUser(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %s deleted successfully", id), nil
	}
}

func listUsers(dir Directory) toolHandler {
	return func(ctx context.Context, args arguments) (string, error) {
		top, err := args.optionalInt("top", defaultListTop)
		if err != nil {
			return "", err
		}
		users, err := dir.ListUsers(ctx, top)
		if err != nil {
			return "", err
		}

		projected := make([]map[string]interface{}, 0, len(users))
		for _, u := range users {
			projected = append(projected, map[string]interface{}{
				"id":                u.ID,
				"userPrincipalName": u.UserPrincipalName,
				"displayName":       u.DisplayName,
				"mail":              u.Mail,
			})
		}
		return indent(map[string]interface{}{
			"users": projected,
			"count": len(projected),
		}), nil
	}
}
