// Package forum defines the entity types scraped from a ProBoards site and
// the closed tagged-variant Item set carried on the persistence queues.
package forum

import "fmt"

// ItemType discriminates queue items so the persistence consumer can
// dispatch to the matching upsert.
type ItemType string

// Item type tags, one per entity table.
const (
	TypeUser         ItemType = "user"
	TypeCategory     ItemType = "category"
	TypeBoard        ItemType = "board"
	TypeModerator    ItemType = "moderator"
	TypeThread       ItemType = "thread"
	TypePost         ItemType = "post"
	TypePoll         ItemType = "poll"
	TypePollOption   ItemType = "poll_option"
	TypePollVoter    ItemType = "poll_voter"
	TypeImage        ItemType = "image"
	TypeAvatar       ItemType = "avatar"
	TypeShoutboxPost ItemType = "shoutbox_post"
)

// Item is implemented by every entity that can travel on the user or
// content queue. The set of implementations is closed: the consumer's
// type switch is exhaustive over it.
type Item interface {
	Type() ItemType
	// Label is a short human-readable identifier used in log lines.
	Label() string
}

// User is a registered forum member, or a guest when ID is negative.
// Guests carry only ID and Name.
type User struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`

	Username          string `db:"username"`
	Group             string `db:"user_group"`
	Age               *int64 `db:"age"`
	Birthdate         string `db:"birthdate"`
	DateRegistered    int64  `db:"date_registered"`
	Email             string `db:"email"`
	Gender            string `db:"gender"`
	InstantMessengers string `db:"instant_messengers"`
	LastOnline        int64  `db:"last_online"`
	LatestStatus      string `db:"latest_status"`
	Location          string `db:"location"`
	PostCount         int64  `db:"post_count"`
	Signature         string `db:"signature"`
	URL               string `db:"url"`
	Website           string `db:"website"`
	WebsiteURL        string `db:"website_url"`
}

func (u *User) Type() ItemType { return TypeUser }
func (u *User) Label() string  { return fmt.Sprintf("user %q (%d)", u.Name, u.ID) }

// Guest reports whether the user is a synthetic guest record.
func (u *User) Guest() bool { return u.ID < 0 }

// Category is a top-level grouping of boards on the forum homepage.
type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func (c *Category) Type() ItemType { return TypeCategory }
func (c *Category) Label() string  { return fmt.Sprintf("category %q (%d)", c.Name, c.ID) }

// Board is a forum board. ParentID is set for sub-boards, forming a tree
// by integer reference rather than nested ownership.
type Board struct {
	ID                int64   `db:"id"`
	Name              string  `db:"name"`
	Description       *string `db:"description"`
	CategoryID        *int64  `db:"category_id"`
	ParentID          *int64  `db:"parent_id"`
	PasswordProtected bool    `db:"password_protected"`
	URL               string  `db:"url"`
}

func (b *Board) Type() ItemType { return TypeBoard }
func (b *Board) Label() string  { return fmt.Sprintf("board %q (%d)", b.Name, b.ID) }

// Moderator links a user to a board they moderate. The user may not have
// been persisted yet when the link is; the store tolerates the forward
// reference.
type Moderator struct {
	BoardID int64 `db:"board_id"`
	UserID  int64 `db:"user_id"`
}

func (m *Moderator) Type() ItemType { return TypeModerator }
func (m *Moderator) Label() string {
	return fmt.Sprintf("moderator (user %d, board %d)", m.UserID, m.BoardID)
}

// Thread is a board thread. UserID is the creating user and may be a
// negative guest id.
type Thread struct {
	ID           int64  `db:"id"`
	BoardID      int64  `db:"board_id"`
	UserID       int64  `db:"user_id"`
	Title        string `db:"title"`
	Locked       bool   `db:"locked"`
	Sticky       bool   `db:"sticky"`
	Announcement bool   `db:"announcement"`
	Views        int64  `db:"views"`
	URL          string `db:"url"`
}

func (t *Thread) Type() ItemType { return TypeThread }
func (t *Thread) Label() string  { return fmt.Sprintf("thread %q (%d)", t.Title, t.ID) }

// Post is a single message in a thread. Message preserves the raw markup
// as scraped. LastEdited/EditUserID are set only when the post carries an
// edit record.
type Post struct {
	ID         int64  `db:"id"`
	ThreadID   int64  `db:"thread_id"`
	UserID     int64  `db:"user_id"`
	Date       int64  `db:"date"`
	Message    string `db:"message"`
	URL        string `db:"url"`
	LastEdited *int64 `db:"last_edited"`
	EditUserID *int64 `db:"edit_user_id"`
}

func (p *Post) Type() ItemType { return TypePost }
func (p *Post) Label() string  { return fmt.Sprintf("post %d", p.ID) }

// Poll is a thread's poll; its id equals the owning thread's id.
type Poll struct {
	ID       int64  `db:"id"`
	Question string `db:"question"`
}

func (p *Poll) Type() ItemType { return TypePoll }
func (p *Poll) Label() string  { return fmt.Sprintf("poll %q (%d)", p.Question, p.ID) }

// PollOption is one answer of a poll. Votes is the site-recorded tally;
// individual votes are not attributable.
type PollOption struct {
	ID     int64  `db:"id"`
	PollID int64  `db:"poll_id"`
	Name   string `db:"name"`
	Votes  int64  `db:"votes"`
}

func (o *PollOption) Type() ItemType { return TypePollOption }
func (o *PollOption) Label() string  { return fmt.Sprintf("poll option %q (%d)", o.Name, o.ID) }

// PollVoter records that a user voted in a poll (not what they chose).
type PollVoter struct {
	PollID int64 `db:"poll_id"`
	UserID int64 `db:"user_id"`
}

func (v *PollVoter) Type() ItemType { return TypePollVoter }
func (v *PollVoter) Label() string {
	return fmt.Sprintf("poll voter (poll %d, user %d)", v.PollID, v.UserID)
}

// Image is content-addressed metadata for a downloaded image. ID is
// assigned by the store. MD5Hash, Filename, and Size are nil when the
// download failed; the record is then keyed by URL alone.
type Image struct {
	ID       int64   `db:"id"`
	URL      string  `db:"url"`
	Filename *string `db:"filename"`
	MD5Hash  *string `db:"md5_hash"`
	Size     *int64  `db:"size"`
}

func (i *Image) Type() ItemType { return TypeImage }
func (i *Image) Label() string  { return fmt.Sprintf("image %s", i.URL) }

// Avatar links a user to their avatar image.
type Avatar struct {
	UserID  int64 `db:"user_id"`
	ImageID int64 `db:"image_id"`
}

func (a *Avatar) Type() ItemType { return TypeAvatar }
func (a *Avatar) Label() string {
	return fmt.Sprintf("avatar (user %d, image %d)", a.UserID, a.ImageID)
}

// ShoutboxPost is a single shoutbox message. Flat; no parent entity.
type ShoutboxPost struct {
	ID      int64  `db:"id"`
	UserID  int64  `db:"user_id"`
	Date    int64  `db:"date"`
	Message string `db:"message"`
}

func (s *ShoutboxPost) Type() ItemType { return TypeShoutboxPost }
func (s *ShoutboxPost) Label() string  { return fmt.Sprintf("shoutbox post %d", s.ID) }
