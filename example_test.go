package vim_test

import (
	"context"
	"log"

	vim "github.com/zongyulang/IM"
)

func ExampleApp() {
	ctx := context.Background()
	path, err := vim.DefaultConfigPath()
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := vim.LoadConfig(path)
	if err != nil {
		log.Fatal(err)
	}
	app, err := vim.NewApp(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Shutdown()

	if err := app.Login(ctx, "alice", "secret"); err != nil {
		log.Fatal(err)
	}
	if err := app.Start(ctx); err != nil {
		log.Fatal(err)
	}

	app.Conversations.Subscribe(func(ev vim.Event) {
		if ev.Kind == vim.EventMessageAdded {
			log.Printf("%s: %s", ev.Message.FromID, ev.Message.Content)
		}
	})
	if err := app.SendText("bob", vim.ChatFriend, "hello"); err != nil {
		log.Fatal(err)
	}
}
