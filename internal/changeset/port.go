package changeset

import "feature-config-api/internal/variation"

type ChangesetServiceAPI interface {
	StageValueCreate(userID uint, input StageValueCreateInput) (*Change, error)
	StageValueUpdate(userID uint, valueID int64, input StageValueUpdateInput) (*Change, error)
	StageValueDelete(userID uint, valueID int64, changesetID *int64) (*Change, error)
	StageKeyCreate(userID uint, input StageKeyCreateInput) (*Change, error)
	StageKeyUpdate(userID uint, keyID int64, input StageKeyUpdateInput) (*Change, error)
	StageKeyDelete(userID uint, keyID int64, changesetID *int64) (*Change, error)
	StageLink(userID uint, input StageLinkInput) (*Change, error)
	StageUnlink(userID uint, input StageLinkInput) (*Change, error)
	StageFeatureVersionCreate(userID uint, featureID int64, changesetID *int64) (*Change, error)
	StageFeatureVersionDelete(userID uint, featureVersionID int64, changesetID *int64) (*Change, error)
	StageServiceVersionCreate(userID uint, serviceID int64, changesetID *int64) (*Change, error)
	StageServiceVersionDelete(userID uint, serviceVersionID int64, changesetID *int64) (*Change, error)

	CanAddValue(keyID int64, sel variation.Selector) error
	CanEditValue(valueID int64) error

	GetByID(id int64) (*ChangesetView, error)
	GetCurrent(userID uint) (*ChangesetView, error)
	ListByAuthor(userID uint) ([]ChangesetView, error)
	ListApprovable() ([]ChangesetView, error)

	Apply(userID uint, id int64, comment string) error
	Commit(userID uint, id int64, comment string) error
	Stash(userID uint, id int64, comment string) error
	Reopen(userID uint, id int64, comment string) error
	Discard(userID uint, id int64, comment string) error
	Comment(userID uint, id int64, comment string) error
	DiscardChange(userID uint, changesetID, changeID int64) error

	ConvertCreateToUpdate(userID uint, changesetID, changeID int64) (*Change, error)
	ConvertUpdateToCreate(userID uint, changesetID, changeID int64) (*Change, error)
	ConfirmData(userID uint, changesetID, changeID int64) (*Change, error)
	Revalidate(userID uint, changesetID, changeID int64) (*Change, error)
	EditChange(userID uint, changesetID, changeID int64, data string) (*Change, error)
}
