package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// queryAddProfileImage records an image row. A file_path that is already
// tracked is reported as store.ErrDuplicate.
func queryAddProfileImage(ctx context.Context, db executor, img *model.ProfileImage) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO profile_images (id, person_id, file_path, source, mime_type, size_bytes, is_primary, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (file_path) DO NOTHING
		RETURNING id`,
		img.ID,
		img.PersonID,
		img.FilePath,
		string(img.Source),
		img.MimeType,
		img.SizeBytes,
		img.IsPrimary,
		img.UploadedAt,
	).Scan(&img.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("add profile image: %w", err)
	}
	return nil
}

func queryGetProfileImage(ctx context.Context, db executor, id string) (*model.ProfileImage, error) {
	return scanProfileImage(db.QueryRowContext(ctx,
		`SELECT `+profileImageColumns+` FROM profile_images WHERE id = $1`, id))
}

// queryListProfileImages returns a person's live images, primary first.
func queryListProfileImages(ctx context.Context, db executor, personID string) ([]*model.ProfileImage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+profileImageColumns+` FROM profile_images
		WHERE person_id = $1 AND deleted_at IS NULL
		ORDER BY is_primary DESC, uploaded_at DESC`,
		personID)
	if err != nil {
		return nil, fmt.Errorf("list profile images: %w", err)
	}
	return scanAll(rows, scanProfileImage)
}

func queryListAllProfileImages(ctx context.Context, db executor, includeDeleted bool) ([]*model.ProfileImage, error) {
	q := `SELECT ` + profileImageColumns + ` FROM profile_images`
	if !includeDeleted {
		q += ` WHERE deleted_at IS NULL`
	}
	q += ` ORDER BY file_path`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list all profile images: %w", err)
	}
	return scanAll(rows, scanProfileImage)
}

// querySoftDeleteProfileImage marks an image deleted. Already-deleted rows
// keep their original timestamp and count as not found.
func querySoftDeleteProfileImage(ctx context.Context, db executor, id string, at time.Time) error {
	return execAffectingOne(ctx, db,
		`UPDATE profile_images SET deleted_at = $2, is_primary = FALSE WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
}

func queryAddFavorite(ctx context.Context, db executor, f *model.FavoriteMedia) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO favorite_media (media_type, media_id, person_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		string(f.MediaType),
		f.MediaID,
		nullString(f.PersonID),
	).Scan(&f.ID, &f.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func queryGetFavorite(ctx context.Context, db executor, mediaType model.MediaType, mediaID string) (*model.FavoriteMedia, error) {
	return scanFavorite(db.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorite_media WHERE media_type = $1 AND media_id = $2`,
		string(mediaType), mediaID))
}

func queryRemoveFavorite(ctx context.Context, db executor, mediaType model.MediaType, mediaID string) error {
	return execAffectingOne(ctx, db,
		`DELETE FROM favorite_media WHERE media_type = $1 AND media_id = $2`,
		string(mediaType), mediaID)
}

// queryListFavorites lists favorites newest first; an empty mediaType lists all.
func queryListFavorites(ctx context.Context, db executor, mediaType model.MediaType, page model.Page) ([]*model.FavoriteMedia, int, error) {
	var b queryBuilder
	if mediaType != "" {
		b.add("media_type = " + b.arg(string(mediaType)))
	}
	favorites, total, err := listPage(ctx, db, &b, favoriteColumns, " FROM favorite_media",
		"created_at DESC, id DESC", page, scanFavorite)
	if err != nil {
		return nil, 0, fmt.Errorf("list favorites: %w", err)
	}
	return favorites, total, nil
}
