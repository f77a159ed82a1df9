package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/auth"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/models"
	"github.com/ukydev/urban-services/internal/partners"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService       *auth.Service
	userCollection    db.UserCollection
	partnerCollection db.PartnerCollection
	directory         PartnerResolver
	log               logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, users db.UserCollection, partnerCollection db.PartnerCollection, directory PartnerResolver, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService:       authService,
		userCollection:    users,
		partnerCollection: partnerCollection,
		directory:         directory,
		log:               log,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if !readJSON(w, r, &loginReq) {
		return
	}

	loginReq.Email = strings.ToLower(strings.TrimSpace(loginReq.Email))
	if loginReq.Email == "" || loginReq.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), loginReq.Email)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.log.WithError(err).Error("Failed to load user for login")
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	var partner *models.Partner
	if user.Role == models.RolePartner {
		partner, err = h.directory.Resolve(r.Context(), user.ID.Hex())
		if err != nil && !errors.Is(err, partners.ErrNotFound) {
			writeServiceError(w, h.log, err)
			return
		}
	}

	response, err := h.issueTokens(user, partner)
	if err != nil {
		h.log.WithError(err).Error("Failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		h.log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, response)
}

// Register creates a customer or partner account. Partner accounts also get
// a partner profile awaiting verification.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if !readJSON(w, r, &registerReq) {
		return
	}

	registerReq.Name = strings.TrimSpace(registerReq.Name)
	registerReq.Email = strings.ToLower(strings.TrimSpace(registerReq.Email))
	if registerReq.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if err := h.authService.ValidateEmail(registerReq.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.authService.ValidatePhone(registerReq.Phone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.authService.ValidatePassword(registerReq.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if registerReq.Role == "" {
		registerReq.Role = models.RoleCustomer
	}
	if registerReq.Role != models.RoleCustomer && registerReq.Role != models.RolePartner {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	categories, err := parseCategories(registerReq.Categories)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.userCollection.FindUserByEmail(r.Context(), registerReq.Email); err == nil {
		writeError(w, http.StatusConflict, "Email already exists")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		writeServiceError(w, h.log, err)
		return
	}

	passwordHash, err := h.authService.HashPassword(registerReq.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user, err := h.userCollection.InsertUser(r.Context(), models.User{
		Name:         registerReq.Name,
		Email:        registerReq.Email,
		Phone:        registerReq.Phone,
		PasswordHash: passwordHash,
		Role:         registerReq.Role,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to create user")
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	var partner *models.Partner
	if user.Role == models.RolePartner {
		businessName := strings.TrimSpace(registerReq.BusinessName)
		if businessName == "" {
			businessName = user.Name
		}
		partner, err = h.partnerCollection.InsertPartner(r.Context(), models.Partner{
			UserID:       user.ID,
			BusinessName: businessName,
			Phone:        user.Phone,
			Categories:   categories,
			Status:       models.PartnerPending,
		})
		if err != nil {
			h.log.WithError(err).WithField("user_id", user.ID.Hex()).Error("Failed to create partner profile")
			writeError(w, http.StatusInternalServerError, "Failed to create partner profile")
			return
		}
	}

	response, err := h.issueTokens(user, partner)
	if err != nil {
		h.log.WithError(err).Error("Failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.WithFields(logrus.Fields{"user_id": user.ID.Hex(), "role": user.Role}).Info("User registered")
	writeJSON(w, http.StatusCreated, response)
}

// GetProfile returns the current user and, for partners, their profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	response := struct {
		User    *models.User    `json:"user"`
		Partner *models.Partner `json:"partner,omitempty"`
	}{User: user}
	if user.Role == models.RolePartner {
		partner, err := h.directory.Resolve(r.Context(), claims.UserID)
		if err != nil && !errors.Is(err, partners.ErrNotFound) {
			writeServiceError(w, h.log, err)
			return
		}
		response.Partner = partner
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *AuthHandler) issueTokens(user *models.User, partner *models.Partner) (models.LoginResponse, error) {
	token, err := h.authService.GenerateToken(user, partner)
	if err != nil {
		return models.LoginResponse{}, err
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return models.LoginResponse{}, err
	}
	return models.LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         *user,
		Partner:      partner,
	}, nil
}

func parseCategories(hexIDs []string) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, 0, len(hexIDs))
	for _, h := range hexIDs {
		id, err := primitive.ObjectIDFromHex(h)
		if err != nil {
			return nil, errors.New("invalid category id " + h)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
