package configtree

import "errors"

var (
	ErrSelectorCollision     = errors.New("a live value with an equal variation selector already exists")
	ErrDuplicateName         = errors.New("a live key with that name already exists in the feature version")
	ErrDuplicateLink         = errors.New("the feature version is already linked to that service version")
	ErrVersionRace           = errors.New("version number no longer matches the latest version")
	ErrPublished             = errors.New("the service version is published; structural deletes are frozen")
	ErrDefaultValueImmutable = errors.New("the default value cannot be deleted")
	ErrValueNotSelectable    = errors.New("a selected variation value is archived or does not exist")
)
