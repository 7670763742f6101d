package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/luyichen/pikapost/internal/config"
	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/records"
	"github.com/luyichen/pikapost/internal/repositories/profile"
)

const dateLayout = "2006-01-02"

// ExecuteContext runs the root command under the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newApp loads the configuration and builds the component graph. The caller
// must defer app.Close().
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg)
}

func runE(fn func(ctx context.Context, a *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(cmd.Context(), a, args); err != nil {
			return errors.New(Message(err))
		}
		return nil
	}
}

var rootCmd = &cobra.Command{
	Use:           "pikapost",
	Short:         "Postcard collection and exchange client",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// auth commands

var loginCmd = &cobra.Command{
	Use:   "login HANDLE",
	Short: "Sign in",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		secret, err := promptSecret("密碼")
		if err != nil {
			return err
		}
		if err := a.Sessions.SignIn(ctx, args[0], secret); err != nil {
			return err
		}
		fmt.Println("登入成功")
		return nil
	}),
}

var registerCmd = &cobra.Command{
	Use:   "register HANDLE",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		secret, err := promptSecret("密碼")
		if err != nil {
			return err
		}
		if err := a.Sessions.SignUp(ctx, args[0], secret); err != nil {
			return err
		}
		fmt.Println("註冊成功，請登入")
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Sessions.SignOut(ctx); err != nil {
			return err
		}
		fmt.Println("已登出")
		return nil
	}),
}

// postcards commands

var postcardsCmd = &cobra.Command{
	Use:   "postcards",
	Short: "Manage the postcard collection",
}

var postcardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collected postcards",
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Postcards.Fetch(ctx); err != nil {
			return err
		}
		cards := a.Postcards.All()
		if len(cards) == 0 {
			fmt.Println("尚未收藏任何明信片")
			return nil
		}
		for _, p := range cards {
			fav := " "
			if p.IsFavorite {
				fav = "*"
			}
			sent := ""
			if len(p.SentTo) > 0 {
				sent = "  → " + strings.Join(p.SentTo, ", ")
			}
			fmt.Printf("%s %s  %-20s %s (%s)%s\n",
				fav, p.CollectedDate.Format(dateLayout), p.ID, p.Title, p.Location, sent)
		}
		return nil
	}),
}

var postcardsAddCmd *cobra.Command

func init() {
	postcardsAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Add a new postcard",
		RunE: runE(func(ctx context.Context, a *App, args []string) error {
			flags := postcardsAddCmd.Flags()
			title, _ := flags.GetString("title")
			location, _ := flags.GetString("location")
			country, _ := flags.GetString("country")
			description, _ := flags.GetString("description")
			imagePath, _ := flags.GetString("image")
			dateStr, _ := flags.GetString("date")
			sentTo, _ := flags.GetStringSlice("sent-to")
			special, _ := flags.GetBool("special")

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
			imageURL, err := a.Postcards.UploadImage(ctx, filepath.Base(imagePath), data)
			if err != nil {
				return err
			}

			collected := time.Now()
			if dateStr != "" {
				collected, err = time.Parse(dateLayout, dateStr)
				if err != nil {
					return fmt.Errorf("parsing date: %w", err)
				}
			}

			draft := models.PostcardDraft{
				Title:         title,
				Location:      location,
				Country:       country,
				Description:   description,
				ImageURL:      imageURL,
				IsSpecial:     special,
				CollectedDate: collected,
				SentTo:        sentTo,
			}
			if err := a.Postcards.Add(ctx, draft); err != nil {
				return err
			}
			fmt.Println("已新增明信片")
			return nil
		}),
	}
}

var postcardsFavCmd = &cobra.Command{
	Use:   "fav ID",
	Short: "Toggle favorite",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Postcards.Fetch(ctx); err != nil {
			return err
		}
		return a.Postcards.ToggleFavorite(ctx, args[0])
	}),
}

var postcardsSentCmd = &cobra.Command{
	Use:   "sent ID [NAME...]",
	Short: "Replace the recipient list; no names clears it",
	Args:  cobra.MinimumNArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Postcards.Fetch(ctx); err != nil {
			return err
		}
		return a.Postcards.UpdateSentTo(ctx, args[0], args[1:])
	}),
}

var postcardsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a postcard",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Postcards.Fetch(ctx); err != nil {
			return err
		}
		return a.Postcards.Delete(ctx, args[0])
	}),
}

// friends commands

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Manage the friend list",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List friends",
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Friends.Fetch(ctx); err != nil {
			return err
		}
		list := a.Friends.All()
		if len(list) == 0 {
			fmt.Println("尚未加入任何皮友")
			return nil
		}
		for _, f := range list {
			fav := " "
			if f.IsFavorite {
				fav = "*"
			}
			fmt.Printf("%s %-20s %s  (已寄出 %d)\n", fav, f.ID, f.Name, len(f.RecentSent))
		}
		return nil
	}),
}

var friendsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a friend",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Friends.Create(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("已加入皮友")
		return nil
	}),
}

var friendsRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a friend",
	Args:  cobra.ExactArgs(2),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Friends.Fetch(ctx); err != nil {
			return err
		}
		return a.Friends.Rename(ctx, args[0], args[1])
	}),
}

var friendsFavCmd = &cobra.Command{
	Use:   "fav ID",
	Short: "Toggle favorite",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Friends.Fetch(ctx); err != nil {
			return err
		}
		return a.Friends.ToggleFavorite(ctx, args[0])
	}),
}

var friendsAvatarCmd = &cobra.Command{
	Use:   "avatar ID FILE",
	Short: "Upload a custom avatar",
	Args:  cobra.ExactArgs(2),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading avatar: %w", err)
		}
		return a.Friends.SetAvatar(ctx, args[0], filepath.Base(args[1]), data)
	}),
}

var friendsAvatarResetCmd = &cobra.Command{
	Use:   "avatar-reset ID",
	Short: "Revert to the generated avatar",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Friends.Fetch(ctx); err != nil {
			return err
		}
		return a.Friends.ResetAvatar(ctx, args[0])
	}),
}

var friendsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a friend",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		return a.Friends.Delete(ctx, args[0])
	}),
}

// records commands

var recordsCmd *cobra.Command

func init() {
	recordsCmd = &cobra.Command{
		Use:   "records",
		Short: "Show exchange records grouped by recipient",
		RunE: runE(func(ctx context.Context, a *App, args []string) error {
			favOnly, _ := recordsCmd.Flags().GetBool("fav")
			search, _ := recordsCmd.Flags().GetString("search")

			if err := a.Friends.Fetch(ctx); err != nil {
				return err
			}
			if err := a.Records.Fetch(ctx); err != nil {
				return err
			}

			groups := records.MergeWithFriends(a.Friends.All(), a.Records.Grouped())
			records.SortGroups(groups)
			groups = records.FilterGroups(groups, favOnly, search)

			if len(groups) == 0 {
				fmt.Println("尚無寄送紀錄")
				return nil
			}
			for _, g := range groups {
				fav := " "
				if g.IsFavorite {
					fav = "*"
				}
				fmt.Printf("%s %s (%d)\n", fav, g.FriendName, len(g.Postcards))
				for _, p := range g.Postcards {
					date := ""
					if !p.Date.IsZero() {
						date = p.Date.Format(dateLayout)
					}
					fmt.Printf("    %s  %s\n", date, p.Title)
				}
			}
			return nil
		}),
	}
}

var recordsSendCmd = &cobra.Command{
	Use:   "send RECEIVER_ID POSTCARD_ID",
	Short: "Record a formal postcard send",
	Args:  cobra.ExactArgs(2),
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		return a.Records.Send(ctx, args[0], args[1])
	}),
}

// profile commands

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the current profile",
	RunE: runE(func(ctx context.Context, a *App, args []string) error {
		if err := a.Profile.Fetch(ctx); err != nil {
			return err
		}
		p := a.Profile.Current()
		if p == nil {
			return nil
		}
		count, err := a.Profile.PostcardCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("名稱:   %s\n", p.Username)
		fmt.Printf("頭像:   %s\n", p.AvatarURL)
		fmt.Printf("收藏數: %d\n", count)
		return nil
	}),
}

var profileSetCmd *cobra.Command

func init() {
	profileSetCmd = &cobra.Command{
		Use:   "set",
		Short: "Update the profile",
		RunE: runE(func(ctx context.Context, a *App, args []string) error {
			if err := a.Profile.Fetch(ctx); err != nil {
				return err
			}
			flags := profileSetCmd.Flags()

			var upd profile.Update
			if flags.Changed("name") {
				name, _ := flags.GetString("name")
				upd.Username = &name
			}
			if flags.Changed("avatar") {
				avatar, _ := flags.GetString("avatar")
				upd.AvatarURL = &avatar
			}
			return a.Profile.Update(ctx, upd)
		}),
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)

	postcardsCmd.AddCommand(postcardsListCmd)
	postcardsCmd.AddCommand(postcardsAddCmd)
	postcardsAddCmd.Flags().String("title", "", "Title")
	postcardsAddCmd.Flags().String("location", "", "Location")
	postcardsAddCmd.Flags().String("country", "", "Country")
	postcardsAddCmd.Flags().String("description", "", "Description")
	postcardsAddCmd.Flags().String("image", "", "Path to the image file")
	postcardsAddCmd.Flags().String("date", "", "Collected date (YYYY-MM-DD, default today)")
	postcardsAddCmd.Flags().StringSlice("sent-to", nil, "Recipient friend names")
	postcardsAddCmd.Flags().Bool("special", false, "Mark as special")
	postcardsCmd.AddCommand(postcardsFavCmd)
	postcardsCmd.AddCommand(postcardsSentCmd)
	postcardsCmd.AddCommand(postcardsDeleteCmd)
	rootCmd.AddCommand(postcardsCmd)

	friendsCmd.AddCommand(friendsListCmd)
	friendsCmd.AddCommand(friendsAddCmd)
	friendsCmd.AddCommand(friendsRenameCmd)
	friendsCmd.AddCommand(friendsFavCmd)
	friendsCmd.AddCommand(friendsAvatarCmd)
	friendsCmd.AddCommand(friendsAvatarResetCmd)
	friendsCmd.AddCommand(friendsDeleteCmd)
	rootCmd.AddCommand(friendsCmd)

	recordsCmd.Flags().Bool("fav", false, "Favorites only")
	recordsCmd.Flags().String("search", "", "Filter by recipient name")
	recordsCmd.AddCommand(recordsSendCmd)
	rootCmd.AddCommand(recordsCmd)

	profileCmd.AddCommand(profileSetCmd)
	profileSetCmd.Flags().String("name", "", "Display name")
	profileSetCmd.Flags().String("avatar", "", "Avatar URL")
	rootCmd.AddCommand(profileCmd)
}
