package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// UserInput is a create or edit form for an operator. An empty Password on
// edit keeps the stored hash.
type UserInput struct {
	ID        UserID `validate:"-"`
	Name      string `validate:"required,max=120"`
	Role      Role   `validate:"required,oneof=admin user"`
	Email     string `validate:"required,email"`
	Password  string `validate:"omitempty,min=8"`
	Permanent bool
}

var validate = validator.New()

var fieldLabels = map[string]string{
	"Name":     "Name",
	"Role":     "Role",
	"Email":    "Email",
	"Password": "Password",
}

// validateUser turns validator failures into operator messages prefixed
// with the row label.
func validateUser(errs *ValidationErrors, label string, in UserInput) {
	err := validate.Struct(in)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("%s%s", label, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		name := fieldLabels[fe.Field()]
		switch fe.Tag() {
		case "required":
			errs.Add("%s%s is required.", label, name)
		case "email":
			errs.Add("%s%s must be a valid email address.", label, name)
		case "oneof":
			errs.Add("%s%s must be one of: %s.", label, name, strings.ReplaceAll(fe.Param(), " ", ", "))
		case "min":
			errs.Add("%s%s must be at least %s characters.", label, name, fe.Param())
		case "max":
			errs.Add("%s%s must be at most %s characters.", label, name, fe.Param())
		default:
			errs.Add("%s%s is invalid.", label, name)
		}
	}
}

func hashPassword(pw string) (string, error) {
	if pw == "" {
		return "", nil
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether pw matches the user's stored hash. Users
// without a password never match.
func CheckPassword(u *User, pw string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pw)) == nil
}

func normalizeUser(in UserInput) UserInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (s *Service) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	in = normalizeUser(in)
	var errs ValidationErrors
	validateUser(&errs, "", in)
	existing, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range existing {
		if in.Email != "" && strings.EqualFold(u.Email, in.Email) {
			errs.Add("Email %s is already in use.", in.Email)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := User{Name: in.Name, Role: in.Role, Email: in.Email, PasswordHash: hash, Permanent: in.Permanent}
	id, err := s.Store.InsertUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("insert user %q: %w", u.Email, err)
	}
	u.ID = id
	s.log().Info("user created", "user_id", id, "role", u.Role)
	return &u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.Store.ListUsers(ctx)
}

// UpdateUsers applies a batch of edits. Every row is validated before the
// first write; one bad row rejects the batch. Email uniqueness is checked
// against the state after the whole batch, so addresses may be swapped.
// A permanent user stays permanent.
func (s *Service) UpdateUsers(ctx context.Context, edits []UserInput) ([]User, error) {
	all, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	byID := make(map[UserID]User, len(all))
	finalEmail := make(map[UserID]string, len(all))
	for _, u := range all {
		byID[u.ID] = u
		finalEmail[u.ID] = strings.ToLower(u.Email)
	}
	rows := make([]UserInput, len(edits))
	for i, in := range edits {
		rows[i] = normalizeUser(in)
		if _, ok := byID[in.ID]; ok {
			finalEmail[in.ID] = rows[i].Email
		}
	}
	owners := make(map[string][]UserID, len(finalEmail))
	for id, email := range finalEmail {
		if email != "" {
			owners[email] = append(owners[email], id)
		}
	}

	var errs ValidationErrors
	updated := make([]User, 0, len(rows))
	for i, in := range rows {
		label := fmt.Sprintf("Row %d: ", i+1)
		current, ok := byID[in.ID]
		if !ok {
			errs.Add("%suser %d not found.", label, in.ID)
			continue
		}
		validateUser(&errs, label, in)
		if in.Email != "" && len(owners[in.Email]) > 1 {
			errs.Add("%sEmail %s is already in use.", label, in.Email)
		}

		current.Name, current.Role, current.Email = in.Name, in.Role, in.Email
		current.Permanent = current.Permanent || in.Permanent
		updated = append(updated, current)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	for i := range updated {
		if pw := rows[i].Password; pw != "" {
			hash, err := hashPassword(pw)
			if err != nil {
				return nil, err
			}
			updated[i].PasswordHash = hash
		}
	}

	err = s.Store.WithTx(ctx, func(st Store) error {
		for _, u := range updated {
			if err := st.UpdateUser(ctx, u); err != nil {
				return fmt.Errorf("user %d: %w", u.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update users: %w", err)
	}
	s.log().Info("users updated", "rows", len(updated))
	return updated, nil
}

// DeleteUser removes a user and clears their client assignments. Permanent
// users are refused.
func (s *Service) DeleteUser(ctx context.Context, id UserID) error {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Permanent {
		return fmt.Errorf("delete %q: %w", u.Name, ErrPermanentUser)
	}
	if err := s.Store.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	s.log().Info("user deleted", "user_id", id)
	return nil
}
