package db

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// fixtureFile is the decoded shape of seed/permit_types.yaml. Business
// content (permit-type catalogues, isolation libraries) lives in data files,
// never in code.
type fixtureFile struct {
	PermitTypes     []permitTypeFixture     `yaml:"permit_types"`
	IsolationPoints []isolationPointFixture `yaml:"isolation_points"`
}

type permitTypeFixture struct {
	Name                   string   `yaml:"name"`
	Category               string   `yaml:"category"`
	RiskLevel              string   `yaml:"risk_level"`
	DefaultValidityHours   int      `yaml:"default_validity_hours"`
	RequiredApprovalLevels int      `yaml:"required_approval_levels"`
	MinPersonnelRequired   int      `yaml:"min_personnel_required"`
	MaxValidityExtensions  int      `yaml:"max_validity_extensions"`
	EscalationTimeHours    int      `yaml:"escalation_time_hours"`
	MandatoryPPE           []string `yaml:"mandatory_ppe"`
	RequiredGases          []string `yaml:"required_gases"`

	RequiresGasTesting            bool `yaml:"requires_gas_testing"`
	RequiresFireWatch             bool `yaml:"requires_fire_watch"`
	RequiresIsolation             bool `yaml:"requires_isolation"`
	RequiresStructuredIsolation   bool `yaml:"requires_structured_isolation"`
	RequiresDeisolationOnCloseout bool `yaml:"requires_deisolation_on_closeout"`
	RequiresTrainingVerification  bool `yaml:"requires_training_verification"`
	RequiresMedicalSurveillance   bool `yaml:"requires_medical_surveillance"`

	SafetyChecklist   map[string]fixtureChecklistItem `yaml:"safety_checklist"`
	CloseoutChecklist map[string]fixtureChecklistItem `yaml:"closeout_checklist"`
	FormTemplate      map[string]any                  `yaml:"form_template"`
}

type fixtureChecklistItem struct {
	Label    string `yaml:"label"`
	Required bool   `yaml:"required"`
}

type isolationPointFixture struct {
	Tag              string `yaml:"tag"`
	Description      string `yaml:"description"`
	PointType        string `yaml:"point_type"`
	EnergyType       string `yaml:"energy_type"`
	DefaultLockCount int    `yaml:"default_lock_count"`
	RequiresLock     bool   `yaml:"requires_lock"`
}

// SeedFixtures inserts the permit-type catalogue and isolation-point library
// from the fixtures file into the given tenant and project. Existing rows
// (matched by name/tag) are left untouched, so re-running is safe.
func SeedFixtures(db *gorm.DB, path string, tenantID, projectID uuid.UUID) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}

	var fixtures fixtureFile
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	for _, f := range fixtures.PermitTypes {
		var existing models.PermitType
		err := db.Where("tenant_id = ? AND name = ?", tenantID, f.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("query permit type %q: %w", f.Name, err)
		}

		pt := models.PermitType{
			TenantID:                      tenantID,
			Name:                          f.Name,
			Version:                       1,
			Category:                      f.Category,
			RiskLevel:                     models.RiskLevel(f.RiskLevel),
			DefaultValidityHours:          orDefault(f.DefaultValidityHours, 8),
			RequiredApprovalLevels:        orDefault(f.RequiredApprovalLevels, 1),
			MinPersonnelRequired:          orDefault(f.MinPersonnelRequired, 1),
			MaxValidityExtensions:         f.MaxValidityExtensions,
			EscalationTimeHours:           orDefault(f.EscalationTimeHours, 4),
			RequiresGasTesting:            f.RequiresGasTesting,
			RequiresFireWatch:             f.RequiresFireWatch,
			RequiresIsolation:             f.RequiresIsolation,
			RequiresStructuredIsolation:   f.RequiresStructuredIsolation,
			RequiresDeisolationOnCloseout: f.RequiresDeisolationOnCloseout,
			RequiresTrainingVerification:  f.RequiresTrainingVerification,
			RequiresMedicalSurveillance:   f.RequiresMedicalSurveillance,
			MandatoryPPE:                  f.MandatoryPPE,
			RequiredGases:                 f.RequiredGases,
			SafetyChecklist:               checklistToMap(f.SafetyChecklist),
			CloseoutChecklist:             checklistToMap(f.CloseoutChecklist),
			FormTemplate:                  f.FormTemplate,
			Active:                        true,
		}
		if err := db.Create(&pt).Error; err != nil {
			return fmt.Errorf("create permit type %q: %w", f.Name, err)
		}
		slog.Info("Seeded permit type", "name", f.Name)
	}

	for _, f := range fixtures.IsolationPoints {
		var existing models.IsolationPointLibrary
		err := db.Where("project_id = ? AND tag = ?", projectID, f.Tag).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("query isolation point %q: %w", f.Tag, err)
		}

		point := models.IsolationPointLibrary{
			TenantID:         tenantID,
			ProjectID:        projectID,
			Tag:              f.Tag,
			Description:      f.Description,
			PointType:        f.PointType,
			EnergyType:       f.EnergyType,
			DefaultLockCount: orDefault(f.DefaultLockCount, 1),
			RequiresLock:     f.RequiresLock,
			Active:           true,
		}
		if err := db.Create(&point).Error; err != nil {
			return fmt.Errorf("create isolation point %q: %w", f.Tag, err)
		}
	}

	return nil
}

func checklistToMap(items map[string]fixtureChecklistItem) models.JSONMap {
	m := models.JSONMap{}
	for key, item := range items {
		m[key] = map[string]any{"label": item.Label, "required": item.Required}
	}
	return m
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SeedDemo creates a demo tenant, project, and one identity per role, then
// loads the fixtures into them. Intended for local development only.
func SeedDemo(db *gorm.DB, fixturesPath, adminPassword string) error {
	var tenant models.Tenant
	err := db.Where("name = ?", "demo").First(&tenant).Error
	if err == gorm.ErrRecordNotFound {
		tenant = models.Tenant{Name: "demo", Active: true}
		if err := db.Create(&tenant).Error; err != nil {
			return fmt.Errorf("create demo tenant: %w", err)
		}
	} else if err != nil {
		return err
	}

	var project models.Project
	err = db.Where("tenant_id = ? AND code = ?", tenant.ID, "DEMO-1").First(&project).Error
	if err == gorm.ErrRecordNotFound {
		project = models.Project{
			TenantID:            tenant.ID,
			Name:                "Demo Plant Turnaround",
			Code:                "DEMO-1",
			Active:              true,
			IndependentVerifier: true,
		}
		if err := db.Create(&project).Error; err != nil {
			return fmt.Errorf("create demo project: %w", err)
		}
	} else if err != nil {
		return err
	}

	if adminPassword == "" {
		adminPassword = "demo-password"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	demoIdentities := []models.Identity{
		{Username: "demo-contractor", Role: models.RoleContractor, Grade: "C"},
		{Username: "demo-verifier", Role: models.RoleEPCEngineer, Grade: "C"},
		{Username: "demo-approver", Role: models.RoleClientEngineer, Grade: "C"},
		{Username: "demo-issuer", Role: models.RoleSafetyOfficer},
		{Username: "demo-admin", Role: models.RoleAdmin},
	}
	for _, id := range demoIdentities {
		var existing models.Identity
		err := db.Where("username = ?", id.Username).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		id.TenantID = tenant.ID
		projectID := project.ID
		id.ProjectID = &projectID
		id.Email = id.Username + "@demo.local"
		id.PasswordHash = string(hash)
		id.Active = true
		if err := db.Create(&id).Error; err != nil {
			return fmt.Errorf("create identity %q: %w", id.Username, err)
		}
		slog.Info("Seeded demo identity", "username", id.Username, "role", id.Role)
	}

	return SeedFixtures(db, fixturesPath, tenant.ID, project.ID)
}
