package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/usermgmt-be/internal/access"
	"github.com/isdelr/usermgmt-be/internal/auth"
	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/models"
	"github.com/isdelr/usermgmt-be/internal/repository"
	"github.com/isdelr/usermgmt-be/internal/storage"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	// leaves room for offset+limit in the stores' int64 arithmetic
	maxOffset = math.MaxInt / 2
)

// Login failures share one error value so callers cannot tell an unknown
// email from a wrong password.
var errInvalidCredentials = common.New(common.ErrInvalidCredentials, "Invalid credentials")

var errInvalidID = common.Validation("Invalid user ID format")

// UserServiceProvider defines the interface for user services.
type UserServiceProvider interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	ToggleActiveStatus(ctx context.Context, actor access.Actor, id string) (*models.User, error)
	GetProfile(ctx context.Context, actor access.Actor) (*models.User, error)
	ListUsers(ctx context.Context, actor access.Actor, page, limit int) (*UserPage, error)
	CreateUser(ctx context.Context, actor *access.Actor, in CreateUserInput) (*models.User, error)
	UpdateUser(ctx context.Context, actor access.Actor, id string, in UpdateUserInput) (*models.User, error)
	UploadProfileImage(ctx context.Context, actor access.Actor, id string, img ImageUpload) (*models.User, error)
	DeleteUser(ctx context.Context, actor access.Actor, id string) error
}

// AuthResult is returned by registration and login.
type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// UserPage is one page of the account listing.
type UserPage struct {
	Users []models.User `json:"users"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int64         `json:"total"`
}

// ImageUpload is a profile image received from a client. Body must be
// seekable so the content type can be sniffed before streaming.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// UserServiceConfig wires a UserService.
type UserServiceConfig struct {
	Users  repository.UserRepository
	Hasher *auth.PasswordHasher
	Tokens *auth.TokenService
	Policy *access.Policy
	// Images may be nil, in which case uploads fail.
	Images        storage.ImageStore
	MobileRegion  string
	MaxImageBytes int64
}

// UserService provides business logic for user management.
type UserService struct {
	users         repository.UserRepository
	hasher        *auth.PasswordHasher
	tokens        *auth.TokenService
	policy        *access.Policy
	images        storage.ImageStore
	mobileRegion  string
	maxImageBytes int64
	// dummyHash is verified against when the email is unknown so that both
	// login failures cost one bcrypt comparison.
	dummyHash string
	now       func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(cfg UserServiceConfig) (*UserService, error) {
	if cfg.Users == nil || cfg.Hasher == nil || cfg.Tokens == nil || cfg.Policy == nil {
		return nil, errors.New("user service: users, hasher, tokens and policy are required")
	}
	dummy, err := cfg.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("user service: %w", err)
	}
	if cfg.MobileRegion == "" {
		cfg.MobileRegion = "US"
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 * 1024 * 1024
	}
	return &UserService{
		users:         cfg.Users,
		hasher:        cfg.Hasher,
		tokens:        cfg.Tokens,
		policy:        cfg.Policy,
		images:        cfg.Images,
		mobileRegion:  cfg.MobileRegion,
		maxImageBytes: cfg.MaxImageBytes,
		dummyHash:     dummy,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register creates a user account and signs it in.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	if err := s.ensureAbsent(ctx, s.users.FindByEmail, in.Email, "User already exists"); err != nil {
		return nil, err
	}

	user, err := s.newUser(in.Username, in.Email, "", in.Password, models.RoleUser)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, createError(err, "User already exists")
	}

	return s.authResult(user)
}

// Login verifies credentials and issues a token.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, common.ErrNotFound) {
		s.hasher.Verify(in.Password, s.dummyHash)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, common.Internal("find user by email", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, errInvalidCredentials
	}
	// Checked after the password so the inactive state is only revealed to
	// a caller who knows it.
	if !user.Active {
		return nil, common.New(common.ErrAccountInactive, "User is inactive")
	}

	return s.authResult(user)
}

// ToggleActiveStatus flips the active flag of an account. Admin only.
func (s *UserService) ToggleActiveStatus(ctx context.Context, actor access.Actor, id string) (*models.User, error) {
	if err := s.authorize(ctx, access.Request{Actor: actor, Action: access.ActionToggleStatus, TargetID: id}); err != nil {
		return nil, err
	}
	if !isValidID(id) {
		return nil, errInvalidID
	}

	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Active = !user.Active
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, updateError(err)
	}
	return user, nil
}

// GetProfile returns the actor's own account.
func (s *UserService) GetProfile(ctx context.Context, actor access.Actor) (*models.User, error) {
	return s.findByID(ctx, actor.ID)
}

// ListUsers returns a page of accounts. Admins see every account; other
// users see only their own.
func (s *UserService) ListUsers(ctx context.Context, actor access.Actor, page, limit int) (*UserPage, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	result := &UserPage{Users: []models.User{}, Page: page, Limit: limit}

	all, err := s.policy.CanListAll(ctx, actor)
	if err != nil {
		return nil, common.Internal("evaluate list policy", err)
	}

	if all {
		users, total, err := s.users.List(ctx, pageOffset(page, limit), limit)
		if err != nil {
			return nil, common.Internal("list users", err)
		}
		result.Users = users
		result.Total = total
		return result, nil
	}

	self, err := s.users.FindByID(ctx, actor.ID)
	if errors.Is(err, common.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, common.Internal("find user by id", err)
	}
	result.Total = 1
	if page == 1 {
		result.Users = append(result.Users, *self)
	}
	return result, nil
}

// CreateUser creates an account with a mobile number and an optional role.
// actor is nil for anonymous callers; only admins may create admins.
func (s *UserService) CreateUser(ctx context.Context, actor *access.Actor, in CreateUserInput) (*models.User, error) {
	in = in.Normalize()
	if err := in.Validate(s.mobileRegion); err != nil {
		return nil, validationError(err)
	}

	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if role == models.RoleAdmin {
		var who access.Actor
		if actor != nil {
			who = *actor
		}
		if err := s.authorize(ctx, access.Request{Actor: who, Action: access.ActionCreateAdmin}); err != nil {
			return nil, err
		}
	}

	mobile, err := normalizeMobile(in.Mobile, s.mobileRegion)
	if err != nil {
		return nil, common.Validation("mobile: %s.", err.Error())
	}

	if err := s.ensureAbsent(ctx, s.users.FindByEmail, in.Email, "Email already in use"); err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(ctx, s.users.FindByMobile, mobile, "Mobile number already in use"); err != nil {
		return nil, err
	}

	user, err := s.newUser(in.Username, in.Email, mobile, in.Password, role)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, createError(err, "Email already in use")
	}
	return user, nil
}

// UpdateUser applies a partial update. The actor must be the account owner
// or an admin; role and active can only be changed by an admin.
func (s *UserService) UpdateUser(ctx context.Context, actor access.Actor, id string, in UpdateUserInput) (*models.User, error) {
	if !isValidID(id) {
		return nil, errInvalidID
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := s.authorize(ctx, access.Request{
		Actor:    actor,
		Action:   access.ActionUpdate,
		TargetID: id,
		Fields:   in.Fields(),
	}); err != nil {
		return nil, err
	}

	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		user.Username = *in.Username
	}
	if in.Email != nil {
		user.Email = *in.Email
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, common.Internal("hash password", err)
		}
		user.PasswordHash = hash
	}
	if in.Active != nil {
		user.Active = *in.Active
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	user.UpdatedAt = s.now()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, updateError(err)
	}
	return user, nil
}

// UploadProfileImage streams an image to the image store and records its
// URL on the account.
func (s *UserService) UploadProfileImage(ctx context.Context, actor access.Actor, id string, img ImageUpload) (*models.User, error) {
	if !isValidID(id) {
		return nil, errInvalidID
	}
	if err := s.authorize(ctx, access.Request{Actor: actor, Action: access.ActionUploadImage, TargetID: id}); err != nil {
		return nil, err
	}
	if img.Body == nil || img.Size == 0 {
		return nil, common.Validation("No file uploaded")
	}
	if img.Size > s.maxImageBytes {
		return nil, common.Validation("File too large, the limit is %d bytes", s.maxImageBytes)
	}
	contentType, err := sniffImage(img)
	if err != nil {
		return nil, err
	}

	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, common.UploadFailed(errors.New("image store is not configured"))
	}

	key := fmt.Sprintf("profile_images/%s/%s%s", user.ID, uuid.NewString(), imageExtension(contentType))
	url, err := s.images.Put(ctx, storage.Object{
		Key:         key,
		ContentType: contentType,
		Size:        img.Size,
		Body:        img.Body,
	})
	if err != nil {
		return nil, common.UploadFailed(err)
	}

	user.ProfileImage = url
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, updateError(err)
	}
	return user, nil
}

// DeleteUser permanently removes an account.
func (s *UserService) DeleteUser(ctx context.Context, actor access.Actor, id string) error {
	if !isValidID(id) {
		return errInvalidID
	}
	if err := s.authorize(ctx, access.Request{Actor: actor, Action: access.ActionDelete, TargetID: id}); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return common.Internal("delete user", err)
	}
	return nil
}

// AdminSeed describes the bootstrap admin account.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

// SeedAdmin creates the bootstrap admin unless an account with its email
// already exists. It reports whether an account was created.
func (s *UserService) SeedAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	email := normalizeEmail(seed.Email)
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return false, fmt.Errorf("seed admin: %w", err)
	}

	user, err := s.newUser(strings.TrimSpace(seed.Username), email, "", seed.Password, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	return true, nil
}

func (s *UserService) newUser(username, email, mobile, password string, role models.Role) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, common.Internal("hash password", err)
	}
	now := s.now()
	return &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Mobile:       mobile,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *UserService) authResult(user *models.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID, user.Role, user.Active)
	if err != nil {
		return nil, common.Internal("issue token", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *UserService) authorize(ctx context.Context, req access.Request) error {
	err := s.policy.Authorize(ctx, req)
	if err == nil || errors.Is(err, common.ErrForbidden) {
		return err
	}
	return common.Internal("evaluate access policy", err)
}

func (s *UserService) findByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, common.Internal("find user by id", err)
	}
	return user, nil
}

// ensureAbsent fails with a Conflict when find locates a record for value.
func (s *UserService) ensureAbsent(ctx context.Context, find func(context.Context, string) (*models.User, error), value, conflictMsg string) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		return common.Conflict("%s", conflictMsg)
	case errors.Is(err, common.ErrNotFound):
		return nil
	default:
		return common.Internal("check uniqueness", err)
	}
}

// createError maps a store failure on insert. The pre-checks can race with
// a concurrent insert; the unique index then has the final word.
func createError(err error, emailMsg string) error {
	var dup *repository.DuplicateError
	if errors.As(err, &dup) {
		return duplicateConflict(dup, emailMsg)
	}
	return common.Internal("create user", err)
}

func updateError(err error) error {
	var dup *repository.DuplicateError
	if errors.As(err, &dup) {
		return duplicateConflict(dup, "Email already in use")
	}
	if errors.Is(err, common.ErrNotFound) {
		return err
	}
	return common.Internal("update user", err)
}

func duplicateConflict(dup *repository.DuplicateError, emailMsg string) error {
	switch dup.Field {
	case "email":
		return common.Conflict("%s", emailMsg)
	case "username":
		return common.Conflict("Username already in use")
	case "mobile":
		return common.Conflict("Mobile number already in use")
	default:
		return common.Conflict("User already exists")
	}
}

// pageOffset returns the number of records before page. Pages too far out
// to address get an offset past any stored record, so they come back empty
// instead of wrapping around to the start.
func pageOffset(page, limit int) int {
	if page-1 > maxOffset/limit {
		return maxOffset
	}
	return (page - 1) * limit
}

// isValidID reports whether id is a canonical account id.
func isValidID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// sniffImage checks that both the declared and the detected content type
// are images, and rewinds the body.
func sniffImage(img ImageUpload) (string, error) {
	if !strings.HasPrefix(img.ContentType, "image/") {
		return "", common.Validation("Only image files are allowed!")
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(img.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", common.Internal("read upload", err)
	}
	detected := http.DetectContentType(head[:n])
	if !strings.HasPrefix(detected, "image/") {
		return "", common.Validation("Only image files are allowed!")
	}
	if _, err := img.Body.Seek(0, io.SeekStart); err != nil {
		return "", common.Internal("rewind upload", err)
	}
	return detected, nil
}

func imageExtension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/x-icon":
		return ".ico"
	default:
		return ""
	}
}
